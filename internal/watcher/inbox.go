package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/jinzai/internal/config"
	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/pkg/utils"
)

// maxInboxFileBytes bounds the size of a document file.
const maxInboxFileBytes = 1 << 20

// DocumentSink receives documents read from the inbox. *ingest.Coordinator satisfies it.
type DocumentSink interface {
	Upsert(ctx context.Context, input *models.DocumentInput) (*models.Document, error)
	Delete(ctx context.Context, id string) error
}

// Inbox turns JSON document files in a directory into upserts and deletes.
// A file without an "id" is stored under its path relative to the inbox, minus the extension.
type Inbox struct {
	sink    DocumentSink
	trigger func()
	watcher *Watcher
	logger  *zap.Logger

	mu  sync.Mutex
	ids map[string]string // path -> document id
	ctx context.Context
}

// NewInbox creates an inbox over cfg.Directory. trigger, when set, is called after a
// document was queued, typically Scheduler.Trigger.
func NewInbox(sink DocumentSink, cfg config.InboxConfig, trigger func(), logger *zap.Logger, opts ...WatcherOption) *Inbox {
	in := &Inbox{
		sink:    sink,
		trigger: trigger,
		logger:  utils.OrNop(logger),
		ids:     make(map[string]string),
		ctx:     context.Background(),
	}
	opts = append([]WatcherOption{WithLogger(in.logger)}, opts...)
	in.watcher = NewWatcher(cfg.Directory, cfg.RecursiveOrDefault(), in.onChange, in.onRemove, opts...)
	return in
}

// Start watches the inbox and loads the files already in it.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	in.ctx = ctx
	in.mu.Unlock()
	if err := in.watcher.Start(ctx); err != nil {
		return fmt.Errorf("watch inbox %s: %w", in.watcher.Root(), err)
	}
	in.watcher.SyncExisting()
	return nil
}

// Stop stops watching the inbox.
func (in *Inbox) Stop() {
	in.watcher.Stop()
}

// Load reads one document file and upserts it.
func (in *Inbox) Load(ctx context.Context, path string) (*models.Document, error) {
	input, err := readDocumentFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.ID) == "" {
		input.ID = in.DocumentID(path)
	}
	doc, err := in.sink.Upsert(ctx, input)
	if err != nil {
		return nil, err
	}
	in.mu.Lock()
	in.ids[filepath.Clean(path)] = doc.ID
	in.mu.Unlock()
	if doc.Status == models.StatusPending && in.trigger != nil {
		in.trigger()
	}
	return doc, nil
}

// Forget deletes the document loaded from path.
func (in *Inbox) Forget(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	in.mu.Lock()
	id, ok := in.ids[path]
	delete(in.ids, path)
	in.mu.Unlock()
	if !ok {
		id = in.DocumentID(path)
	}
	return in.sink.Delete(ctx, id)
}

// DocumentID derives the id of a file without an explicit one.
func (in *Inbox) DocumentID(path string) string {
	rel, err := filepath.Rel(in.watcher.Root(), filepath.Clean(path))
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
}

func (in *Inbox) context() context.Context {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ctx
}

func (in *Inbox) onChange(path string) {
	doc, err := in.Load(in.context(), path)
	if err != nil {
		in.logger.Warn("inbox file rejected", zap.String("path", path), zap.Error(err))
		return
	}
	in.logger.Info("inbox document loaded",
		zap.String("path", path),
		zap.String("doc_id", doc.ID),
		zap.String("status", string(doc.Status)))
}

func (in *Inbox) onRemove(path string) {
	err := in.Forget(in.context(), path)
	switch {
	case errors.Is(err, models.ErrNotFound):
		in.logger.Debug("inbox file removed, no document", zap.String("path", path))
	case err != nil:
		in.logger.Warn("inbox delete failed", zap.String("path", path), zap.Error(err))
	default:
		in.logger.Info("inbox document deleted", zap.String("path", path))
	}
}

func readDocumentFile(path string) (*models.DocumentInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxInboxFileBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", models.ErrInvalidInput, path, maxInboxFileBytes)
	}
	var input models.DocumentInput
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", models.ErrInvalidInput, path, err)
	}
	return &input, nil
}
