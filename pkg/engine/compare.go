package engine

import (
	"context"
	"time"
)

// State is a stage of the compare state machine.
type State uint8

const (
	StateInit State = iota
	StateValidated
	StateIngested
	StateNormalized
	StateMatched
	StateRanked
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateValidated:
		return "validated"
	case StateIngested:
		return "ingested"
	case StateNormalized:
		return "normalized"
	case StateMatched:
		return "matched"
	case StateRanked:
		return "ranked"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Compare runs the full seven-stage pipeline over two line streams and
// produces a ranked, deduplicated, back-mapped comparison result.
// Re-invoking Compare with identical inputs produces identical
// output byte-for-byte: there is no hidden randomness or wall-clock
// dependence in the matching logic itself (only the Timings fields vary).
func Compare(ctx context.Context, docA, docB LineStream, params Params, progress ProgressFunc, cancel *CancelToken) (CompareResult, error) {
	var timings StageTimings

	// --- VALIDATE ---
	p := params.WithDefaults()
	t0 := time.Now()
	if err := p.Validate(); err != nil {
		return CompareResult{}, err
	}
	timings.ValidateMS = elapsedMS(t0)

	// --- INGEST ---
	t0 = time.Now()
	linesA, err := drain(docA)
	if err != nil {
		return CompareResult{}, extractorError("doc_a", err)
	}
	linesB, err := drain(docB)
	if err != nil {
		return CompareResult{}, extractorError("doc_b", err)
	}
	timings.IngestMS = elapsedMS(t0)

	// --- NORMALIZE (+ TOKENIZE & WINDOW) ---
	t0 = time.Now()
	docAObj := buildDocument(linesA, p)
	docBObj := buildDocument(linesB, p)
	if len(docAObj.Paragraphs) == 0 || len(docBObj.Paragraphs) == 0 {
		if p.EmptyDocumentIsError {
			which := "doc_a"
			if len(docAObj.Paragraphs) != 0 {
				which = "doc_b"
			}
			return CompareResult{}, &Error{Kind: KindEmptyDocument, Which: which}
		}
		return CompareResult{
			TotalFragmentsA: len(docAObj.Fragments),
			TotalFragmentsB: len(docBObj.Fragments),
			Timings:         timings,
		}, nil
	}
	timings.NormalizeMS = elapsedMS(t0)

	// --- MATCH ---
	t0 = time.Now()
	idx := buildBucketIndex(docBObj.Fragments)
	rawMatches, considered, cancelled := matchDriver(ctx, docAObj.Fragments, docBObj.Fragments, idx, p.SimilarityThreshold, p.WorkerCount, progress, cancel)
	if cancelled {
		return CompareResult{Cancelled: true}, ErrCancelled
	}
	timings.MatchMS = elapsedMS(t0)

	// --- RANK & DEDUP ---
	t0 = time.Now()
	ranked := rankAndDedup(rawMatches, p.SimilarityThreshold)
	timings.RankMS = elapsedMS(t0)

	// --- REIFY ---
	t0 = time.Now()
	matches := make([]MatchContext, len(ranked))
	for i, m := range ranked {
		matches[i] = reifyContext(m, docAObj.Paragraphs, docBObj.Paragraphs, p.ContextChars)
	}
	hist, min, max, mean := buildStats(matches, p.SimilarityThreshold)
	timings.ReifyMS = elapsedMS(t0)

	return CompareResult{
		TotalFragmentsA:          len(docAObj.Fragments),
		TotalFragmentsB:          len(docBObj.Fragments),
		CandidatePairsConsidered: considered,
		Matches:                  matches,
		Histogram:                hist,
		ScoreMin:                 min,
		ScoreMax:                 max,
		ScoreMean:                mean,
		Timings:                  timings,
	}, nil
}

func elapsedMS(t0 time.Time) float64 {
	return float64(time.Since(t0).Microseconds()) / 1000.0
}

// drain exhausts a LineStream into a slice, the only point where the
// engine blocks on external I/O.
func drain(s LineStream) ([]Line, error) {
	var lines []Line
	for {
		ln, ok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return lines, nil
		}
		lines = append(lines, ln)
	}
}

// groupLinesIntoParagraphs groups consecutive lines sharing a page into one
// paragraph buffer ahead of character classification.
func groupLinesIntoParagraphs(lines []Line) []rawParagraph {
	var out []rawParagraph
	var cur rawParagraph
	started := false

	flush := func() {
		if started && cur.text != "" {
			out = append(out, cur)
		}
		cur = rawParagraph{}
		started = false
	}

	for _, ln := range lines {
		if !started {
			cur = rawParagraph{text: ln.Text, page: ln.Page, line: ln.LineNo}
			started = true
			continue
		}
		if ln.Page != cur.page {
			flush()
			cur = rawParagraph{text: ln.Text, page: ln.Page, line: ln.LineNo}
			started = true
			continue
		}
		cur.text += "\n" + ln.Text
	}
	flush()
	return out
}

type rawParagraph struct {
	text string
	page uint32
	line uint32
}

// buildDocument runs Normalize and Tokenize&window for one side: group
// lines into paragraphs, clean each, drop short ones, tokenize, window into
// fragments, then cap to the configured maximum.
func buildDocument(lines []Line, p Params) *Document {
	raws := groupLinesIntoParagraphs(lines)
	doc := &Document{}

	for _, rp := range raws {
		clean, backMap := cleanParagraph(rp.text)
		if len(clean) < p.MinCleanParagraphLen {
			continue
		}
		para := &Paragraph{
			RawText:    rp.text,
			CleanRunes: clean,
			BackMap:    backMap,
			StartPage:  rp.page,
			StartLine:  rp.line,
			id:         len(doc.Paragraphs),
		}
		doc.Paragraphs = append(doc.Paragraphs, para)
	}

	frags := buildFragments(doc.Paragraphs, p.WindowN)
	doc.Fragments = capFragments(frags, p.MaxFragmentsPerDoc)
	return doc
}
