package engine

// reifyContext reconstructs the raw-text windows surrounding a match's two
// fragments using each owning paragraph's back-map, which locates the raw
// span without searching the raw text; each side still walks its paragraph's
// raw text once to map byte offsets to rune indices.
func reifyContext(m Match, paragraphsA, paragraphsB []*Paragraph, contextChars int) MatchContext {
	before, after := "", ""
	pa := paragraphByID(paragraphsA, m.FragA.ParagraphID)
	if pa != nil {
		before, after = windowAround(pa, m.FragA, contextChars)
	}
	beforeA, afterA := before, after

	before, after = "", ""
	pb := paragraphByID(paragraphsB, m.FragB.ParagraphID)
	if pb != nil {
		before, after = windowAround(pb, m.FragB, contextChars)
	}

	return MatchContext{
		FragA:          m.FragA,
		FragB:          m.FragB,
		Score:          m.Score,
		Ops:            m.Ops,
		ContextBeforeA: beforeA,
		ContextAfterA:  afterA,
		ContextBeforeB: before,
		ContextAfterB:  after,
	}
}

func paragraphByID(paragraphs []*Paragraph, id int) *Paragraph {
	if id < 0 || id >= len(paragraphs) {
		return nil
	}
	p := paragraphs[id]
	if p == nil || p.ID() != id {
		// Inconsistent lookup (e.g. caller rebuilt clean text out of band):
		// never fail the whole comparison, just return no context.
		return nil
	}
	return p
}

// windowAround computes the raw-text context before and after a fragment's
// token span, counting K valid codepoints in each direction while carrying
// any intervening invalid codepoints (punctuation, whitespace) verbatim
//.
func windowAround(p *Paragraph, f Fragment, k int) (before, after string) {
	toks := p.Tokens()
	if f.TokenStart < 0 || f.TokenStart+f.N > len(toks) || f.N == 0 {
		return "", ""
	}
	start := toks[f.TokenStart].CleanStart
	end := toks[f.TokenStart+f.N-1].CleanEnd

	if start < 0 || end > len(p.BackMap) || start > end {
		return "", ""
	}

	raw := []rune(p.RawText)
	runeAtByte := byteToRuneIndex(p.RawText)

	var r0 int
	if start < len(p.BackMap) {
		r0 = runeAtByte[p.BackMap[start]]
	} else {
		r0 = len(raw)
	}
	var r1 int
	if end > 0 && end-1 < len(p.BackMap) {
		r1 = runeAtByte[p.BackMap[end-1]] + 1
	} else {
		r1 = r0
	}

	before = collectValid(raw, r0-1, -1, k)
	after = collectValid(raw, r1, 1, k)
	return before, after
}

// byteToRuneIndex maps a raw byte offset to the rune index of the codepoint
// starting there (or covering it).
func byteToRuneIndex(s string) map[int]int {
	m := make(map[int]int)
	i := 0
	for idx := range s {
		m[idx] = i
		i++
	}
	m[len(s)] = i
	return m
}

// collectValid walks raw runes from start in the given direction (-1 or
// +1), stopping once k valid (Chinese/ASCII-letter/digit) codepoints have
// been counted or the paragraph boundary is reached. Invalid codepoints
// encountered along the way are kept verbatim in the returned window.
func collectValid(raw []rune, start, dir, k int) string {
	if k <= 0 {
		return ""
	}
	var collected []rune
	valid := 0
	i := start
	for i >= 0 && i < len(raw) && valid < k {
		collected = append(collected, raw[i])
		if isValid(raw[i]) {
			valid++
		}
		i += dir
	}
	if dir < 0 {
		for l, r := 0, len(collected)-1; l < r; l, r = l+1, r-1 {
			collected[l], collected[r] = collected[r], collected[l]
		}
	}
	return string(collected)
}

// buildStats computes the histogram and score summary over the final
// matches. With no matches, Score{Min,Max,Mean} are left
// at the zero value per the "undefined when empty" contract.
func buildStats(matches []MatchContext, tau float64) (hist Histogram, min, max, mean float64) {
	if len(matches) == 0 {
		return Histogram{}, 0, 0, 0
	}
	min = matches[0].Score
	max = matches[0].Score
	var sum float64
	for _, m := range matches {
		s := m.Score
		sum += s
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		switch {
		case s > 0.9:
			hist.Above90++
		case s > 0.8:
			hist.Between80And90++
		default:
			hist.BelowOrAtTau++
		}
	}
	mean = sum / float64(len(matches))
	return hist, min, max, mean
}
