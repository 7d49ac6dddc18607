package engine

// tokenize splits a paragraph's clean runes into semantic tokens. clean
// contains only Chinese codepoints and lower-cased [a-z0-9] —
// no separator spaces are ever present (see classify.go) — so CleanStart/
// CleanEnd are plain rune offsets into clean. Because clean has no word
// boundaries, adjacent source words of the same kind come out here as one
// token; Paragraph.Tokens splits them using the back-map.
func tokenize(clean []rune) []Token {
	tokens := make([]Token, 0, len(clean))

	i := 0
	for i < len(clean) {
		r := clean[i]
		switch {
		case isChinese(r):
			tokens = append(tokens, Token{
				Text:       string(r),
				Kind:       KindChinese,
				CleanStart: i,
				CleanEnd:   i + 1,
			})
			i++

		case isASCIILower(r):
			start := i
			for i < len(clean) && isASCIILower(clean[i]) {
				i++
			}
			tokens = append(tokens, Token{
				Text:       string(clean[start:i]),
				Kind:       KindLatin,
				CleanStart: start,
				CleanEnd:   i,
			})

		case isDigit(r):
			start := i
			for i < len(clean) && isDigit(clean[i]) {
				i++
			}
			tokens = append(tokens, Token{
				Text:       string(clean[start:i]),
				Kind:       KindDigit,
				CleanStart: start,
				CleanEnd:   i,
			})

		default:
			// Unreachable given clean's invariant, but skip defensively
			// rather than producing a malformed token.
			i++
		}
	}

	return tokens
}
