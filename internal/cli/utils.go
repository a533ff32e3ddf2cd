// Package cli provides output rendering for the studyowl CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/studyowl/studyowl/internal/citation"
	"github.com/studyowl/studyowl/internal/ingest"
	"github.com/studyowl/studyowl/internal/models"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// AskResult is one completed chat turn as returned by the server's finish
// event. JSON field names follow the front-end contract so the same struct
// decodes the SSE payload and renders --output json.
type AskResult struct {
	ChatID   string                   `json:"chatId"`
	Answer   citation.Answer          `json:"answer"`
	Metadata *models.CitationMetadata `json:"metadata,omitempty"`
}

// WriteAskResult writes a completed turn to w in the given format.
// In text mode the answer itself has usually already been streamed token by
// token, so only the citation summary is printed.
func WriteAskResult(w io.Writer, res *AskResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	default:
		writeAskResultText(w, res)
		return nil
	}
}

func writeAskResultText(w io.Writer, res *AskResult) {
	fmt.Fprintln(w)
	if res.Answer.PageFocus != nil {
		fmt.Fprintf(w, "page focus:  %d\n", res.Answer.PageFocus.Page)
	}
	for _, h := range res.Answer.Highlights {
		fmt.Fprintf(w, "highlight:   page %d: %q\n", h.Page, h.Text)
	}
	if res.Metadata != nil {
		fmt.Fprintf(w, "sources:     pages %s (%d chunks retrieved)\n",
			joinInts(res.Metadata.RelevantPages), len(res.Metadata.Chunks))
	}
	fmt.Fprintf(w, "chat id:     %s\n", res.ChatID)
}

func joinInts(ns []int) string {
	out := ""
	for i, n := range ns {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d", n)
	}
	return out
}

// WriteIngestReport writes an ingestion report to w in the given format.
func WriteIngestReport(w io.Writer, report *ingest.Report, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		writeIngestReportText(w, report)
		return nil
	}
}

func writeIngestReportText(w io.Writer, report *ingest.Report) {
	if report.Skipped {
		fmt.Fprintf(w, "Skipped (unchanged): %s\n", report.Filename)
		return
	}
	fmt.Fprintf(w, "Ingested %s: %d page(s), %d chunk(s), %d embedded\n",
		report.Filename, report.PageCount, report.ChunkCount, report.EmbeddedCount)
	if report.FailedBatches > 0 {
		fmt.Fprintf(w, "  warning: %d embedding batch(es) failed; affected chunks are keyword-searchable only\n",
			report.FailedBatches)
	}
	fmt.Fprintf(w, "  document id: %s\n", report.DocumentID)
}
