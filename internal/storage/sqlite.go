package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/internal/vector"
)

// SQLiteStorage implements Storage using SQLite. Timestamps are stored as UTC Unix
// nanoseconds so that range comparisons in SQL are numeric.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := "file:" + dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		summary TEXT NOT NULL DEFAULT '',
		skills TEXT NOT NULL DEFAULT '',
		experience TEXT NOT NULL DEFAULT '',
		education TEXT NOT NULL DEFAULT '',
		certifications TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		embedded_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status, next_attempt_at);
	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

	CREATE TABLE IF NOT EXISTS embeddings (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		segment_id TEXT NOT NULL,
		field_type TEXT NOT NULL,
		text TEXT NOT NULL,
		vector BLOB NOT NULL,
		confidence REAL NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (document_id, segment_id),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_document_id ON embeddings(document_id);
	CREATE INDEX IF NOT EXISTS idx_embeddings_field_type ON embeddings(field_type);

	CREATE TABLE IF NOT EXISTS search_queries (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL DEFAULT '',
		query_vector BLOB,
		execution_time_ns INTEGER NOT NULL,
		result_count INTEGER NOT NULL,
		top_score REAL NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		feedback_note TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_search_queries_created_at ON search_queries(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `id, summary, skills, experience, education, certifications, content_hash,
	status, error_message, attempts, next_attempt_at, created_at, updated_at, embedded_at`

// CreateDocument inserts a document. Status defaults to pending and the content hash is
// computed when missing.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	if doc.ContentHash == "" {
		doc.ContentHash = doc.ComputeContentHash()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Summary, doc.Skills, doc.Experience, doc.Education, doc.Certifications,
		doc.ContentHash, string(doc.Status), doc.ErrorMessage, doc.Attempts,
		nullableNanos(doc.NextAttemptAt), toNanos(doc.CreatedAt), toNanos(doc.UpdatedAt), nullableNanos(doc.EmbeddedAt),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, doc.ID)
		}
		return storageErr("create document", err)
	}
	return nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get document", err)
	}
	return doc, nil
}

// UpdateDocument overwrites an existing document's text and ingestion state.
func (s *SQLiteStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	doc.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET summary = ?, skills = ?, experience = ?, education = ?, certifications = ?,
		 content_hash = ?, status = ?, error_message = ?, attempts = ?, next_attempt_at = ?,
		 updated_at = ?, embedded_at = ?
		 WHERE id = ?`,
		doc.Summary, doc.Skills, doc.Experience, doc.Education, doc.Certifications,
		doc.ContentHash, string(doc.Status), doc.ErrorMessage, doc.Attempts, nullableNanos(doc.NextAttemptAt),
		toNanos(doc.UpdatedAt), nullableNanos(doc.EmbeddedAt), doc.ID,
	)
	if err != nil {
		return storageErr("update document", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, models.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document and, through the foreign key, its embedding records.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete document", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListDocuments returns documents matching filter, oldest first. limit <= 0 means no limit.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, filter models.DocumentFilter, offset, limit int) ([]*models.Document, error) {
	where, args := documentWhere(filter)
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents`+where+` ORDER BY created_at, id LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, storageErr("list documents", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, storageErr("scan document", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list documents", err)
	}
	return docs, nil
}

// CountDocuments returns the number of documents matching filter.
func (s *SQLiteStorage) CountDocuments(ctx context.Context, filter models.DocumentFilter) (int64, error) {
	where, args := documentWhere(filter)
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`+where, args...).Scan(&count); err != nil {
		return 0, storageErr("count documents", err)
	}
	return count, nil
}

// CountByStatus returns the number of documents in each status. Every status is present.
func (s *SQLiteStorage) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, storageErr("count by status", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int64, len(models.Statuses))
	for _, st := range models.Statuses {
		counts[st] = 0
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storageErr("count by status", err)
		}
		counts[models.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("count by status", err)
	}
	return counts, nil
}

// ClaimDocument moves a pending document, or a processing document last touched before
// staleBefore, into processing. It is a single compare-and-set, so two callers can never
// both claim the same document. Returns ErrNotClaimable if the document is in any other state.
func (s *SQLiteStorage) ClaimDocument(ctx context.Context, id string, staleBefore time.Time) (*models.Document, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ?
		 WHERE id = ? AND (status = ? OR (status = ? AND updated_at < ?))`,
		string(models.StatusProcessing), toNanos(now),
		id, string(models.StatusPending), string(models.StatusProcessing), toNanos(staleBefore),
	)
	if err != nil {
		return nil, storageErr("claim document", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := s.GetDocument(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotClaimable, id)
	}
	return s.GetDocument(ctx, id)
}

// ReleaseDocument returns a processing document to pending without counting an attempt.
func (s *SQLiteStorage) ReleaseDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.StatusPending), toNanos(time.Now().UTC()), id, string(models.StatusProcessing),
	)
	if err != nil {
		return storageErr("release document", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotClaimable, id)
	}
	return nil
}

// CompleteDocument replaces the document's embedding records with records and stores its new
// state in one transaction. The document must still be processing with the same content hash
// it was claimed with; otherwise nothing is written and ErrNotClaimable is returned.
func (s *SQLiteStorage) CompleteDocument(ctx context.Context, doc *models.Document, records []*models.EmbeddingRecord) error {
	return s.finish(ctx, doc, records, true)
}

// FailDocument stores a terminal failure and removes the document's embedding records.
func (s *SQLiteStorage) FailDocument(ctx context.Context, doc *models.Document) error {
	return s.finish(ctx, doc, nil, true)
}

// RequeueDocument returns a processing document to pending with its attempt counter and
// next attempt time. Existing embedding records are kept until a later pass replaces them.
func (s *SQLiteStorage) RequeueDocument(ctx context.Context, doc *models.Document) error {
	return s.finish(ctx, doc, nil, false)
}

func (s *SQLiteStorage) finish(ctx context.Context, doc *models.Document, records []*models.EmbeddingRecord, replaceRecords bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_message = ?, attempts = ?, next_attempt_at = ?,
		 updated_at = ?, embedded_at = ?
		 WHERE id = ? AND status = ? AND content_hash = ?`,
		string(doc.Status), doc.ErrorMessage, doc.Attempts, nullableNanos(doc.NextAttemptAt),
		toNanos(now), nullableNanos(doc.EmbeddedAt),
		doc.ID, string(models.StatusProcessing), doc.ContentHash,
	)
	if err != nil {
		return storageErr("update document state", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s changed while processing", ErrNotClaimable, doc.ID)
	}

	if replaceRecords {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, doc.ID); err != nil {
			return storageErr("delete embeddings", err)
		}
		if err := insertEmbeddings(ctx, tx, records, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	doc.UpdatedAt = now
	return nil
}

func insertEmbeddings(ctx context.Context, tx *sql.Tx, records []*models.EmbeddingRecord, now time.Time) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO embeddings (id, document_id, segment_id, field_type, text, vector, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return storageErr("prepare embedding insert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.DocumentID, r.SegmentID, string(r.FieldType), r.Text,
			vector.Encode(r.Vector), r.Confidence, toNanos(r.CreatedAt)); err != nil {
			return storageErr("insert embedding", err)
		}
	}
	return nil
}

// RecoverStale returns processing documents last touched before staleBefore to pending.
// It reports how many documents were recovered.
func (s *SQLiteStorage) RecoverStale(ctx context.Context, staleBefore time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		string(models.StatusPending), toNanos(time.Now().UTC()), string(models.StatusProcessing), toNanos(staleBefore),
	)
	if err != nil {
		return 0, storageErr("recover stale documents", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

const embeddingColumns = `id, document_id, segment_id, field_type, text, vector, confidence, created_at`

// ListEmbeddings returns records matching filter ordered by document and segment.
func (s *SQLiteStorage) ListEmbeddings(ctx context.Context, filter EmbeddingFilter) ([]*models.EmbeddingRecord, error) {
	var (
		conds []string
		args  []any
	)
	if len(filter.DocumentIDs) > 0 {
		conds = append(conds, "document_id IN ("+placeholders(len(filter.DocumentIDs))+")")
		for _, id := range filter.DocumentIDs {
			args = append(args, id)
		}
	}
	if len(filter.FieldTypes) > 0 {
		conds = append(conds, "field_type IN ("+placeholders(len(filter.FieldTypes))+")")
		for _, f := range filter.FieldTypes {
			args = append(args, string(f))
		}
	}
	return s.queryEmbeddings(ctx, `SELECT `+embeddingColumns+` FROM embeddings`+whereClause(conds)+
		` ORDER BY document_id, id`, args...)
}

// GetEmbeddingsByDocumentID returns all records of a document.
func (s *SQLiteStorage) GetEmbeddingsByDocumentID(ctx context.Context, docID string) ([]*models.EmbeddingRecord, error) {
	return s.ListEmbeddings(ctx, EmbeddingFilter{DocumentIDs: []string{docID}})
}

func (s *SQLiteStorage) queryEmbeddings(ctx context.Context, query string, args ...any) ([]*models.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list embeddings", err)
	}
	defer rows.Close()

	var records []*models.EmbeddingRecord
	for rows.Next() {
		var (
			r         models.EmbeddingRecord
			fieldType string
			blob      []byte
			created   int64
		)
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.SegmentID, &fieldType, &r.Text, &blob, &r.Confidence, &created); err != nil {
			return nil, storageErr("scan embedding", err)
		}
		vec, err := vector.Decode(blob)
		if err != nil {
			return nil, storageErr("decode embedding "+r.ID, err)
		}
		r.FieldType = models.FieldType(fieldType)
		r.Vector = vec
		r.CreatedAt = fromNanos(created)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list embeddings", err)
	}
	return records, nil
}

// DeleteEmbeddingsByDocumentID removes all records of a document.
func (s *SQLiteStorage) DeleteEmbeddingsByDocumentID(ctx context.Context, docID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, docID); err != nil {
		return storageErr("delete embeddings", err)
	}
	return nil
}

// CountEmbeddings returns the total number of embedding records.
func (s *SQLiteStorage) CountEmbeddings(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&count); err != nil {
		return 0, storageErr("count embeddings", err)
	}
	return count, nil
}

// EmbeddingsVersion returns the record count and the newest record's creation time.
func (s *SQLiteStorage) EmbeddingsVersion(ctx context.Context) (EmbeddingsVersion, error) {
	var v EmbeddingsVersion
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MAX(created_at), 0) FROM embeddings`).
		Scan(&v.Count, &v.Latest)
	if err != nil {
		return EmbeddingsVersion{}, storageErr("embeddings version", err)
	}
	return v, nil
}

// CreateSearchQuery stores an analytics record.
func (s *SQLiteStorage) CreateSearchQuery(ctx context.Context, rec *models.SearchQueryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var blob []byte
	if len(rec.QueryVector) > 0 {
		blob = vector.Encode(rec.QueryVector)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_queries (id, query_text, query_vector, execution_time_ns, result_count, top_score,
		 feedback, feedback_note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.QueryText, blob, int64(rec.ExecutionTime), rec.ResultCount, rec.TopScore,
		string(rec.Feedback), rec.FeedbackNote, toNanos(rec.CreatedAt),
	)
	if err != nil {
		return storageErr("create search query", err)
	}
	return nil
}

// UpdateSearchQueryFeedback attaches user feedback to a stored query.
func (s *SQLiteStorage) UpdateSearchQueryFeedback(ctx context.Context, id string, feedback models.Feedback, note string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE search_queries SET feedback = ?, feedback_note = ? WHERE id = ?`,
		string(feedback), note, id,
	)
	if err != nil {
		return storageErr("update search query", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("search query %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListSearchQueries returns analytics records, newest first. limit <= 0 means no limit.
func (s *SQLiteStorage) ListSearchQueries(ctx context.Context, offset, limit int) ([]*models.SearchQueryRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query_text, query_vector, execution_time_ns, result_count, top_score, feedback, feedback_note, created_at
		 FROM search_queries ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, storageErr("list search queries", err)
	}
	defer rows.Close()

	var out []*models.SearchQueryRecord
	for rows.Next() {
		var (
			rec      models.SearchQueryRecord
			blob     []byte
			execNs   int64
			feedback string
			created  int64
		)
		if err := rows.Scan(&rec.ID, &rec.QueryText, &blob, &execNs, &rec.ResultCount, &rec.TopScore,
			&feedback, &rec.FeedbackNote, &created); err != nil {
			return nil, storageErr("scan search query", err)
		}
		if len(blob) > 0 {
			if rec.QueryVector, err = vector.Decode(blob); err != nil {
				return nil, storageErr("decode query vector", err)
			}
		}
		rec.ExecutionTime = time.Duration(execNs)
		rec.Feedback = models.Feedback(feedback)
		rec.CreatedAt = fromNanos(created)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list search queries", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc                  models.Document
		status               string
		nextAttempt, embAt   sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&doc.ID, &doc.Summary, &doc.Skills, &doc.Experience, &doc.Education, &doc.Certifications,
		&doc.ContentHash, &status, &doc.ErrorMessage, &doc.Attempts, &nextAttempt, &createdAt, &updatedAt, &embAt)
	if err != nil {
		return nil, err
	}
	doc.Status = models.Status(status)
	doc.NextAttemptAt = fromNullNanos(nextAttempt)
	doc.EmbeddedAt = fromNullNanos(embAt)
	doc.CreatedAt = fromNanos(createdAt)
	doc.UpdatedAt = fromNanos(updatedAt)
	return &doc, nil
}

func documentWhere(f models.DocumentFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		conds = append(conds, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if len(f.IDs) > 0 {
		conds = append(conds, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.DueBefore != nil {
		conds = append(conds, "(next_attempt_at IS NULL OR next_attempt_at <= ?)")
		args = append(args, toNanos(*f.DueBefore))
	}
	return whereClause(conds), args
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrStorage, op, err)
}
