package notifier

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"MarketIngest/internal/model"
)

// FormatBatchReport summarises a batch run for the chat.
func FormatBatchReport(results []model.IngestResult, took time.Duration) string {
	var b strings.Builder
	runID := ""
	if len(results) > 0 {
		runID = results[0].RunID
	}
	b.WriteString(fmt.Sprintf("📊 <b>Ingestion run</b> | %s\n", time.Now().UTC().Format("2006-01-02 15:04 MST")))
	if runID != "" {
		b.WriteString(fmt.Sprintf("run: <code>%s</code>\n", runID))
	}
	b.WriteString("\n")

	var ok, noData, failed, rows, synthetic int
	for _, r := range results {
		switch r.Status {
		case model.StatusSuccess:
			ok++
			rows += r.RowCount
			if !r.RealData {
				synthetic++
			}
		case model.StatusNoData:
			noData++
		case model.StatusFailed:
			failed++
		}
	}
	b.WriteString(fmt.Sprintf("✅ success: %d (%d rows)\n", ok, rows))
	if synthetic > 0 {
		b.WriteString(fmt.Sprintf("🧪 synthetic: %d\n", synthetic))
	}
	b.WriteString(fmt.Sprintf("➖ no data: %d\n", noData))
	b.WriteString(fmt.Sprintf("❌ failed: %d\n", failed))
	b.WriteString(fmt.Sprintf("⏱ %s\n", took.Round(time.Second)))

	if failed > 0 {
		b.WriteString("\n<b>Failures:</b>\n")
		for _, r := range failedFirst(results) {
			if r.Status != model.StatusFailed {
				break
			}
			b.WriteString(fmt.Sprintf("  %s/%s: %s\n", r.Symbol, r.TimeframeKey, html.EscapeString(shorten(r.Error, 120))))
		}
	}
	return b.String()
}

// FormatUnitResult renders a single unit outcome.
func FormatUnitResult(r model.IngestResult) string {
	switch r.Status {
	case model.StatusSuccess:
		src := r.Source
		if !r.RealData {
			src = "synthetic"
		}
		return fmt.Sprintf("%s/%s: %d rows (%s)", r.Symbol, r.TimeframeKey, r.RowCount, src)
	case model.StatusNoData:
		return fmt.Sprintf("%s/%s: no data", r.Symbol, r.TimeframeKey)
	default:
		return fmt.Sprintf("%s/%s: failed: %s", r.Symbol, r.TimeframeKey, html.EscapeString(r.Error))
	}
}

func failedFirst(results []model.IngestResult) []model.IngestResult {
	out := append([]model.IngestResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Status == model.StatusFailed && out[j].Status != model.StatusFailed
	})
	return out
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
