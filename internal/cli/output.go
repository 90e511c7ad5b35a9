// Package cli formats jinzai results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/jinzai/internal/ingest"
	"github.com/hyperjump/jinzai/internal/models"
	"github.com/hyperjump/jinzai/internal/search"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is indented JSON for other programs.
	OutputJSON OutputFormat = "json"
)

// snippetLen bounds how much of a matched segment is printed.
const snippetLen = 160

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes a search response in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	fmt.Fprintf(w, "Found %d result(s) among %d candidate(s) in %dms\n",
		len(response.Results), response.Candidates, response.QueryTime)
	if response.Error != "" {
		fmt.Fprintf(w, "query not answered: %s\n", response.Error)
	}
	if response.Excluded > 0 {
		fmt.Fprintf(w, "(%d candidate(s) skipped for a dimension mismatch)\n", response.Excluded)
	}
	for _, r := range response.Results {
		fmt.Fprintln(w, strings.Repeat("-", 60))
		fmt.Fprintf(w, "#%d  score %.4f  %s  [%s]\n", r.Rank, r.Score, r.Record.DocumentID, r.Record.SegmentID)
		fmt.Fprintf(w, "    %s\n", search.Highlight(r.Record.Text, snippetLen))
	}
	if response.QueryID != "" {
		fmt.Fprintf(w, "\nquery id: %s\n", response.QueryID)
	}
	return nil
}

// WriteDocument writes a document and, when given, its embedding records.
func WriteDocument(w io.Writer, doc *models.Document, records []*models.EmbeddingRecord, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, struct {
			*models.Document
			Records []*models.EmbeddingRecord `json:"records,omitempty"`
		}{doc, records})
	}
	fmt.Fprintf(w, "id:        %s\n", doc.ID)
	fmt.Fprintf(w, "status:    %s\n", doc.Status)
	fmt.Fprintf(w, "attempts:  %d\n", doc.Attempts)
	if doc.NextAttemptAt != nil {
		fmt.Fprintf(w, "retry at:  %s\n", doc.NextAttemptAt.Format("2006-01-02 15:04:05"))
	}
	if doc.EmbeddedAt != nil {
		fmt.Fprintf(w, "embedded:  %s\n", doc.EmbeddedAt.Format("2006-01-02 15:04:05"))
	}
	if doc.ErrorMessage != "" {
		fmt.Fprintf(w, "error:     %s\n", doc.ErrorMessage)
	}
	if len(records) > 0 {
		fmt.Fprintf(w, "records:   %d\n", len(records))
		for _, r := range records {
			fmt.Fprintf(w, "  %-18s %.2f  %s\n", r.SegmentID, r.Confidence, search.Highlight(r.Text, 60))
		}
	}
	return nil
}

// WriteBatchReport writes the outcome of an ingestion batch.
func WriteBatchReport(w io.Writer, report *ingest.BatchReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, report)
	}
	fmt.Fprintf(w, "claimed %d document(s) in %s\n", report.Claimed, report.Duration.Round(time.Millisecond))
	for _, o := range []ingest.Outcome{
		ingest.OutcomeCompleted,
		ingest.OutcomeDeduplicated,
		ingest.OutcomeRequeued,
		ingest.OutcomeFailed,
		ingest.OutcomeReleased,
		ingest.OutcomeError,
	} {
		if n := report.Count(o); n > 0 {
			fmt.Fprintf(w, "  %-13s %d\n", o, n)
		}
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintf(w, "  skipped       %s\n", strings.Join(report.Skipped, ", "))
	}
	for _, r := range report.Results {
		if r.Error != "" {
			fmt.Fprintf(w, "  %s: %s\n", r.ID, r.Error)
		}
	}
	return nil
}

// WriteStatus writes the engine status.
func WriteStatus(w io.Writer, st *search.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "documents:         %d\n", st.TotalDocuments)
	for _, s := range models.Statuses {
		fmt.Fprintf(w, "  %-15s %d\n", s, st.Documents[s])
	}
	fmt.Fprintf(w, "embeddings:        %d\n", st.Embeddings)
	fmt.Fprintf(w, "index loaded:      %t\n", st.IndexLoaded)
	if st.IndexLoaded {
		fmt.Fprintf(w, "index records:     %d (%d documents)\n", st.IndexRecords, st.IndexDocuments)
	}
	fmt.Fprintf(w, "dimensions:        %d\n", st.Dimensions)
	fmt.Fprintf(w, "provider ready:    %t\n", st.ProviderReady)
	if st.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "disk usage bytes:  %d\n", st.DiskUsageBytes)
	}
	return nil
}
