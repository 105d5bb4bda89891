package memtools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/memory"
)

// Detail levels for read tools:
//   - summary: ids, titles and state only
//   - standard: adds the chosen option and a rationale snippet
//   - full: every stored field
const (
	detailSummary  = "summary"
	detailStandard = "standard"
	detailFull     = "full"
)

const snippetLength = 300

func withDetailLevel() mcp.ToolOption {
	return mcp.WithString("detail_level",
		mcp.Description("How much of each record to show: summary, standard (default) or full"),
		mcp.Enum(detailSummary, detailStandard, detailFull),
	)
}

// parseDetailLevel defaults empty or unknown values to standard.
func parseDetailLevel(s string) string {
	switch s {
	case detailSummary, detailFull:
		return s
	default:
		return detailStandard
	}
}

const summaryFooter = "\n---\nUse detail_level: standard or full for more detail."

// navigationHint returns a footer when results are capped by a limit.
func navigationHint(showing, total int, hint string) string {
	if total <= 0 || showing >= total {
		return ""
	}
	if hint != "" {
		return fmt.Sprintf("\nShowing %d of %d. %s", showing, total, hint)
	}
	return fmt.Sprintf("\nShowing %d of %d.", showing, total)
}

// estimateTokens uses the chars/4 heuristic. Non-empty text is at least 1.
func estimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return max(n/4, 1)
}

// withTokenFooter appends the estimated token cost of text.
func withTokenFooter(text string) string {
	return text + fmt.Sprintf("\n~%s tokens", formatNumber(estimateTokens(text)))
}

// formatNumber formats an integer with comma separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 1000 {
		return s
	}
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// writeDecision renders one decision at the given detail level.
func writeDecision(b *strings.Builder, rec *memory.DecisionRecord, level string) {
	fmt.Fprintf(b, "- **%s** [%s] %s/%s, domain: %s\n  ID: %s\n",
		rec.Title, rec.CreatedAt.Format("2006-01-02"), rec.Status, rec.Outcome, rec.Domain, rec.ID)
	if level == detailSummary {
		return
	}

	fmt.Fprintf(b, "  Chosen: %s\n", rec.ChosenOption)
	if level == detailStandard {
		if rec.Rationale != "" {
			fmt.Fprintf(b, "  Rationale: %s\n", memory.Truncate(rec.Rationale, snippetLength))
		}
		return
	}

	fmt.Fprintf(b, "  Context: %s\n", rec.Context)
	if rec.Rationale != "" {
		fmt.Fprintf(b, "  Rationale: %s\n", rec.Rationale)
	}
	if rec.DecisionMaker != "" {
		fmt.Fprintf(b, "  Decided by: %s\n", rec.DecisionMaker)
	}
	for _, o := range rec.Options {
		fmt.Fprintf(b, "  Option: %s", o.Name)
		if o.Description != "" {
			fmt.Fprintf(b, ": %s", o.Description)
		}
		b.WriteString("\n")
		if len(o.Pros) > 0 {
			fmt.Fprintf(b, "    Pros: %s\n", strings.Join(o.Pros, "; "))
		}
		if len(o.Cons) > 0 {
			fmt.Fprintf(b, "    Cons: %s\n", strings.Join(o.Cons, "; "))
		}
	}
	if len(rec.Metadata) > 0 {
		keys := make([]string, 0, len(rec.Metadata))
		for k := range rec.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "  %s: %s\n", k, rec.Metadata[k])
		}
	}
	fmt.Fprintf(b, "  Updated: %s\n", rec.UpdatedAt.Format("2006-01-02 15:04"))
}
