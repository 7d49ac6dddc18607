// Package report renders an engine.CompareResult as plain text, JSON, CSV or
// HTML. The engine emits a structured result; everything presentational lives
// here.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/thehowl/dupescan/pkg/engine"
)

// Row is the flattened, serialization-friendly view of one match.
type Row struct {
	Rank     int      `json:"rank"`
	Score    float64  `json:"score"`
	TextA    string   `json:"text_a"`
	TextB    string   `json:"text_b"`
	PageA    uint32   `json:"page_a"`
	LineA    uint32   `json:"line_a"`
	PageB    uint32   `json:"page_b"`
	LineB    uint32   `json:"line_b"`
	ContextA string   `json:"context_a"`
	ContextB string   `json:"context_b"`
	Ops      []string `json:"ops,omitempty"`
}

// Summary is the serialization-friendly view of a whole result.
type Summary struct {
	TotalFragmentsA          int     `json:"total_fragments_a"`
	TotalFragmentsB          int     `json:"total_fragments_b"`
	CandidatePairsConsidered int     `json:"candidate_pairs_considered"`
	MatchCount               int     `json:"match_count"`
	HighCount                int     `json:"high_count"`   // score > 0.9
	MediumCount              int     `json:"medium_count"` // 0.8 < score <= 0.9
	LowCount                 int     `json:"low_count"`    // tau <= score <= 0.8
	ScoreMin                 float64 `json:"score_min"`
	ScoreMax                 float64 `json:"score_max"`
	ScoreMean                float64 `json:"score_mean"`
	Matches                  []Row   `json:"matches"`
}

// Build flattens a CompareResult into a Summary.
func Build(res *engine.CompareResult) Summary {
	s := Summary{
		TotalFragmentsA:          res.TotalFragmentsA,
		TotalFragmentsB:          res.TotalFragmentsB,
		CandidatePairsConsidered: res.CandidatePairsConsidered,
		MatchCount:               len(res.Matches),
		HighCount:                res.Histogram.Above90,
		MediumCount:              res.Histogram.Between80And90,
		LowCount:                 res.Histogram.BelowOrAtTau,
		ScoreMin:                 res.ScoreMin,
		ScoreMax:                 res.ScoreMax,
		ScoreMean:                res.ScoreMean,
		Matches:                  make([]Row, len(res.Matches)),
	}
	for i, m := range res.Matches {
		s.Matches[i] = Row{
			Rank:     i + 1,
			Score:    m.Score,
			TextA:    m.FragA.DisplayText,
			TextB:    m.FragB.DisplayText,
			PageA:    m.FragA.StartPage,
			LineA:    m.FragA.StartLine,
			PageB:    m.FragB.StartPage,
			LineB:    m.FragB.StartLine,
			ContextA: m.ContextBeforeA + m.FragA.DisplayText + m.ContextAfterA,
			ContextB: m.ContextBeforeB + m.FragB.DisplayText + m.ContextAfterB,
			Ops:      m.Ops,
		}
	}
	return s
}

// Text writes a human-readable report.
func Text(w io.Writer, s Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "fragments: %d (A) / %d (B), %d candidate pairs scored\n",
		s.TotalFragmentsA, s.TotalFragmentsB, s.CandidatePairsConsidered)
	fmt.Fprintf(&b, "matches: %d (%d high / %d medium / %d low)\n",
		s.MatchCount, s.HighCount, s.MediumCount, s.LowCount)
	if s.MatchCount > 0 {
		fmt.Fprintf(&b, "score: min %.3f / mean %.3f / max %.3f\n",
			s.ScoreMin, s.ScoreMean, s.ScoreMax)
	}
	for _, row := range s.Matches {
		fmt.Fprintf(&b, "\n#%d  score %.3f\n", row.Rank, row.Score)
		fmt.Fprintf(&b, "  A p%d:%d  %s\n", row.PageA, row.LineA, row.TextA)
		fmt.Fprintf(&b, "  B p%d:%d  %s\n", row.PageB, row.LineB, row.TextB)
		if len(row.Ops) > 0 && row.Ops[0] != "identical" {
			fmt.Fprintf(&b, "  ops: %s\n", strings.Join(row.Ops, "; "))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// JSON writes the summary as indented JSON.
func JSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// CSV writes one row per match.
func CSV(w io.Writer, s Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"rank", "score",
		"page_a", "line_a", "text_a", "context_a",
		"page_b", "line_b", "text_b", "context_b",
	}); err != nil {
		return err
	}
	for _, row := range s.Matches {
		err := cw.Write([]string{
			strconv.Itoa(row.Rank),
			strconv.FormatFloat(row.Score, 'f', 4, 64),
			strconv.FormatUint(uint64(row.PageA), 10),
			strconv.FormatUint(uint64(row.LineA), 10),
			row.TextA,
			row.ContextA,
			strconv.FormatUint(uint64(row.PageB), 10),
			strconv.FormatUint(uint64(row.LineB), 10),
			row.TextB,
			row.ContextB,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
