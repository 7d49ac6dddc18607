package engine

import "sort"

// rankAndDedup discards below-threshold matches (belt-and-braces over the
// scorer), deduplicates by (frag_a.match_key, frag_b.match_key) keeping the
// first-encountered match, and sorts the survivors by score descending with
// a deterministic tie-break on fragment positions.
func rankAndDedup(matches []Match, tau float64) []Match {
	type key struct{ a, b string }
	seen := make(map[key]struct{}, len(matches))
	out := make([]Match, 0, len(matches))

	for _, m := range matches {
		if m.Score < tau {
			continue
		}
		k := key{m.FragA.MatchKey, m.FragB.MatchKey}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.FragB.ParagraphID != b.FragB.ParagraphID {
			return a.FragB.ParagraphID < b.FragB.ParagraphID
		}
		if a.FragB.TokenStart != b.FragB.TokenStart {
			return a.FragB.TokenStart < b.FragB.TokenStart
		}
		if a.FragA.ParagraphID != b.FragA.ParagraphID {
			return a.FragA.ParagraphID < b.FragA.ParagraphID
		}
		return a.FragA.TokenStart < b.FragA.TokenStart
	})

	return out
}
