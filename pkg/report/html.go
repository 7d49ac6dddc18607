package report

import (
	"io"

	"github.com/thehowl/dupescan/pkg/diff"
	"github.com/thehowl/dupescan/templates"
)

// MatchDiff pairs a match row with a unified diff of its two context
// windows, which the HTML report renders hunk by hunk.
type MatchDiff struct {
	Row  Row
	Diff diff.Unified
}

// HTMLData is the model for report.tmpl.
type HTMLData struct {
	ID      string
	Summary Summary
	Diffs   []MatchDiff
}

// HTML renders the full report page for a finished comparison.
func HTML(w io.Writer, id string, s Summary) error {
	data := HTMLData{ID: id, Summary: s}
	for _, row := range s.Matches {
		u := diff.Diff("a", []byte(row.ContextA+"\n"), "b", []byte(row.ContextB+"\n"))
		data.Diffs = append(data.Diffs, MatchDiff{Row: row, Diff: u})
	}
	return templates.Templates.ExecuteTemplate(w, "report.tmpl", data)
}
