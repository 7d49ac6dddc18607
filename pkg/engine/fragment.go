package engine

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// buildFragments slides a window of N tokens over every paragraph's token
// list, producing one Fragment per window. Fragment.id is a document-local
// running counter, used as a stable identity for candidate dedup.
func buildFragments(paragraphs []*Paragraph, windowN int) []Fragment {
	var frags []Fragment
	id := 0
	for _, p := range paragraphs {
		toks := p.Tokens()
		if len(toks) < windowN {
			continue
		}
		for i := 0; i+windowN <= len(toks); i++ {
			window := toks[i : i+windowN]
			matchKey, displayText := renderWindow(window)
			frags = append(frags, Fragment{
				id:          id,
				ParagraphID: p.ID(),
				TokenStart:  i,
				N:           windowN,
				MatchKey:    matchKey,
				DisplayText: displayText,
				SketchKeys:  sketchKeys(window, matchKey, displayText),
				PureChinese: isPureChinese(window),
				StartPage:   p.StartPage,
				StartLine:   p.StartLine,
			})
			id++
		}
	}
	return frags
}

// renderWindow concatenates a token window into its match key (no
// separators, ever) and its display text (one ASCII space between adjacent
// Latin/Digit tokens).
func renderWindow(window []Token) (matchKey, displayText string) {
	var mk, dt strings.Builder
	for j, t := range window {
		mk.WriteString(t.Text)
		if j > 0 && window[j-1].Kind.isWordy() && t.Kind.isWordy() {
			dt.WriteByte(' ')
		}
		dt.WriteString(t.Text)
	}
	return mk.String(), dt.String()
}

// isPureChinese reports whether every token in window is Chinese. It decides
// both the sketch-key shape and the scorer's comparison unit.
func isPureChinese(window []Token) bool {
	for _, t := range window {
		if t.Kind != KindChinese {
			return false
		}
	}
	return true
}

// sketchKeys computes the small fingerprint set used only to narrow
// candidate lookup. Not a correctness filter.
func sketchKeys(window []Token, matchKey, displayText string) []string {
	n := len(window)
	pureChinese := isPureChinese(window)

	// Insertion-ordered dedup: the key order decides candidate order in the
	// bucket lookup, which must be stable for reruns to be byte-identical.
	var keys []string
	seen := make(map[string]struct{}, 3)
	add := func(s string) {
		h := md5Hash8(s)
		if _, dup := seen[h]; dup {
			return
		}
		seen[h] = struct{}{}
		keys = append(keys, h)
	}

	if pureChinese {
		runes := []rune(matchKey)
		add(string(runes[:min(4, len(runes))]))
		if n >= 8 {
			add(string(runes[len(runes)-4:]))
		}
	} else {
		words := strings.Fields(displayText)
		add(strings.Join(words[:min(4, len(words))], " "))
		add(strings.Join(words[max(0, len(words)-4):], " "))
		if len(words) >= 8 {
			var evens []string
			for i := 0; i < 8; i += 2 {
				evens = append(evens, words[i])
			}
			add(strings.Join(evens, " "))
		}
	}

	return keys
}

func md5Hash8(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

// capFragments subsamples fragments with a uniform stride so that at most
// maxPerDoc survive, preserving relative order.
func capFragments(frags []Fragment, maxPerDoc int) []Fragment {
	if len(frags) <= maxPerDoc {
		return frags
	}
	stride := (len(frags) + maxPerDoc - 1) / maxPerDoc
	out := make([]Fragment, 0, maxPerDoc)
	for i := 0; i < len(frags); i += stride {
		out = append(out, frags[i])
	}
	return out
}
