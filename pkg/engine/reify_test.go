package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowAround(t *testing.T) {
	raw := "他说:今天天气很好,我们出去走走吧!"
	p := paragraphFromRaw(t, raw, 0)
	frags := buildFragments([]*Paragraph{p}, 3)

	// Find the window starting at 天气很.
	var f Fragment
	found := false
	for _, fr := range frags {
		if fr.MatchKey == "天气很" {
			f, found = fr, true
			break
		}
	}
	require.True(t, found)

	before, after := windowAround(p, f, 4)
	// Counting 4 valid codepoints leftward from 天气很 crosses the comma-free
	// run 他说今天 and keeps the colon in between verbatim.
	assert.Equal(t, "他说:今天", before)
	assert.Equal(t, "好,我们出", after)

	// before + raw match span + after must be a contiguous substring of raw.
	span := rawSpan(t, p, f)
	assert.Contains(t, raw, before+span+after)
}

func TestWindowAroundBounds(t *testing.T) {
	p := paragraphFromRaw(t, "今天天气很好", 0)
	frags := buildFragments([]*Paragraph{p}, 3)
	require.NotEmpty(t, frags)

	t.Run("zero_context", func(t *testing.T) {
		before, after := windowAround(p, frags[0], 0)
		assert.Empty(t, before)
		assert.Empty(t, after)
	})
	t.Run("context_clipped_at_paragraph", func(t *testing.T) {
		before, after := windowAround(p, frags[0], 100)
		assert.Empty(t, before)
		assert.Equal(t, "气很好", after)
	})
	t.Run("bad_token_range", func(t *testing.T) {
		f := frags[0]
		f.TokenStart = 99
		before, after := windowAround(p, f, 10)
		assert.Empty(t, before)
		assert.Empty(t, after)
	})
}

func TestReifyContextInconsistentParagraph(t *testing.T) {
	// A match pointing at a paragraph id outside the document never fails;
	// it reifies with empty context strings.
	p := paragraphFromRaw(t, "今天天气很好", 0)
	frags := buildFragments([]*Paragraph{p}, 3)
	require.NotEmpty(t, frags)

	m := Match{FragA: frags[0], FragB: frags[0], Score: 1}
	m.FragB.ParagraphID = 42
	mc := reifyContext(m, []*Paragraph{p}, []*Paragraph{p}, 5)
	assert.NotEmpty(t, mc.ContextAfterA)
	assert.Empty(t, mc.ContextBeforeB)
	assert.Empty(t, mc.ContextAfterB)
}

// rawSpan extracts the raw-text bytes covered by a fragment through the
// paragraph's back-map.
func rawSpan(t *testing.T, p *Paragraph, f Fragment) string {
	t.Helper()
	toks := p.Tokens()
	start := toks[f.TokenStart].CleanStart
	end := toks[f.TokenStart+f.N-1].CleanEnd
	r0 := p.BackMap[start]
	last := p.BackMap[end-1]
	rest := p.RawText[last:]
	_, size := utf8DecodeRune(rest)
	return p.RawText[r0 : last+size]
}

func utf8DecodeRune(s string) (rune, int) {
	for _, r := range s {
		return r, runeLen(r)
	}
	return 0, 0
}

func TestBuildStats(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		hist, min, max, mean := buildStats(nil, 0.5)
		assert.Equal(t, Histogram{}, hist)
		assert.Equal(t, 0.0, min)
		assert.Equal(t, 0.0, max)
		assert.Equal(t, 0.0, mean)
	})
	t.Run("bands", func(t *testing.T) {
		matches := []MatchContext{
			{Score: 1.0},
			{Score: 0.95},
			{Score: 0.85},
			{Score: 0.8},
			{Score: 0.75},
		}
		hist, min, max, mean := buildStats(matches, 0.75)
		assert.Equal(t, 2, hist.Above90)
		assert.Equal(t, 1, hist.Between80And90)
		assert.Equal(t, 2, hist.BelowOrAtTau)
		assert.Equal(t, 0.75, min)
		assert.Equal(t, 1.0, max)
		assert.InDelta(t, 0.87, mean, 1e-12)
	})
}

func TestContextRoundTrip(t *testing.T) {
	// Concatenating context_before + raw span + context_after always yields a
	// contiguous substring of the owning paragraph's raw text.
	raws := []string{
		"Python 3.14 is great, isn't it? Yes!",
		"他说:今天天气很好,我们出去走走吧!",
		"Mixed 中文 and English with 42 numbers... and punctuation.",
	}
	for _, raw := range raws {
		p := paragraphFromRaw(t, raw, 0)
		frags := buildFragments([]*Paragraph{p}, 2)
		for _, f := range frags {
			before, after := windowAround(p, f, 3)
			span := rawSpan(t, p, f)
			assert.True(t, strings.Contains(raw, before+span+after),
				"%q + %q + %q not contiguous in %q", before, span, after, raw)
		}
	}
}
