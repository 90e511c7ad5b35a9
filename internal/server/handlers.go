package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/jinzai/internal/embedding"
	"github.com/hyperjump/jinzai/internal/models"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top_k", query.TopK))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		s.respondErr(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

type batchSearchRequest struct {
	Queries []*models.SearchQuery `json:"queries"`
}

type batchSearchResponse struct {
	Results []*models.SearchResponse `json:"results"`
}

func (s *Server) handleBatchSearch(w http.ResponseWriter, r *http.Request) {
	var req batchSearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Queries) == 0 {
		s.respondError(w, http.StatusBadRequest, "queries are required")
		return
	}
	results, err := s.engine.BatchSearch(r.Context(), req.Queries)
	if err != nil {
		s.respondErr(w, "batch search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, batchSearchResponse{Results: results})
}

type documentList struct {
	Documents []*models.Document `json:"documents"`
	Total     int64              `json:"total"`
	Offset    int                `json:"offset"`
	Limit     int                `json:"limit"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.DocumentFilter
	if v := q.Get("status"); v != "" {
		st, err := models.ParseStatus(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Statuses = []models.Status{st}
	}
	offset, limit, ok := s.paging(w, r, 50)
	if !ok {
		return
	}
	docs, err := s.storage.ListDocuments(r.Context(), filter, offset, limit)
	if err != nil {
		s.respondErr(w, "list documents failed", err)
		return
	}
	total, err := s.storage.CountDocuments(r.Context(), filter)
	if err != nil {
		s.respondErr(w, "count documents failed", err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, documentList{Documents: docs, Total: total, Offset: offset, Limit: limit})
}

func (s *Server) handleUpsertDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if !s.decode(w, r, &input) {
		return
	}
	s.logger.Debug("upsert document request", zap.String("id", input.ID))
	doc, created, err := s.coord.Save(r.Context(), &input)
	if err != nil {
		s.respondErr(w, "upsert failed", err)
		return
	}
	if doc.Status == models.StatusPending {
		s.triggerIngest()
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, doc)
}

type documentDetail struct {
	*models.Document
	Records []*models.EmbeddingRecord `json:"records"`
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondErr(w, "get document failed", err)
		return
	}
	records, err := s.storage.GetEmbeddingsByDocumentID(r.Context(), id)
	if err != nil {
		s.respondErr(w, "get records failed", err)
		return
	}
	if records == nil {
		records = []*models.EmbeddingRecord{}
	}
	s.respondJSON(w, http.StatusOK, documentDetail{Document: doc, Records: records})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.coord.Delete(r.Context(), id); err != nil {
		s.respondErr(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	doc, err := s.coord.Regenerate(r.Context(), id, force)
	if err != nil {
		s.respondErr(w, "regenerate failed", err)
		return
	}
	s.triggerIngest()
	s.respondJSON(w, http.StatusAccepted, doc)
}

type ingestRequest struct {
	IDs []string `json:"ids,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if r.ContentLength != 0 {
		if !s.decode(w, r, &req) {
			return
		}
	}
	report, err := s.coord.Enqueue(r.Context(), req.IDs...)
	if err != nil {
		s.respondErr(w, "ingestion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := s.paging(w, r, 50)
	if !ok {
		return
	}
	queries, err := s.storage.ListSearchQueries(r.Context(), offset, limit)
	if err != nil {
		s.respondErr(w, "list queries failed", err)
		return
	}
	if queries == nil {
		queries = []*models.SearchQueryRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"queries": queries})
}

type feedbackRequest struct {
	Feedback models.Feedback `json:"feedback"`
	Note     string          `json:"note,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req feedbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.RecordFeedback(r.Context(), id, req.Feedback, req.Note); err != nil {
		s.respondErr(w, "feedback failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "feedback": string(req.Feedback)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.respondErr(w, "status failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.respondError(w, http.StatusNotImplemented, "metrics not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) triggerIngest() {
	if s.trigger != nil {
		s.trigger()
	}
}

// paging reads offset and limit from the query string.
func (s *Server) paging(w http.ResponseWriter, r *http.Request, defaultLimit int) (offset, limit int, ok bool) {
	q := r.URL.Query()
	offset, limit = 0, defaultLimit
	var err error
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid offset")
			return 0, 0, false
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return 0, 0, false
		}
	}
	return offset, limit, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrStorage),
		errors.Is(err, embedding.ErrInitialization),
		errors.Is(err, embedding.ErrEmbed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
