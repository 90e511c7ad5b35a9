package models

// ScoredRecord is a single search hit.
type ScoredRecord struct {
	Record *EmbeddingRecord `json:"record"`
	Score  float64          `json:"score"`
	Rank   int              `json:"rank"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	QueryID string          `json:"query_id,omitempty"`
	Query   string          `json:"query,omitempty"`
	Results []*ScoredRecord `json:"results"`
	// Candidates is the number of records considered after field-type filtering.
	Candidates int `json:"candidates"`
	// Excluded counts candidates skipped for a dimension mismatch.
	Excluded  int     `json:"excluded,omitempty"`
	TopScore  float64 `json:"top_score"`
	AvgScore  float64 `json:"avg_score"`
	QueryTime int64   `json:"query_time_ms"`
	// Error explains an empty result list when the query could not be embedded.
	Error string `json:"error,omitempty"`
}
