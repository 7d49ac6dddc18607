package engine

// Character classification and paragraph cleaning.

func isChinese(r rune) bool    { return r >= 0x4E00 && r <= 0x9FFF }
func isASCIILower(r rune) bool { return r >= 'a' && r <= 'z' }
func isASCIIUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isDigit(r rune) bool      { return r >= '0' && r <= '9' }

func isValid(r rune) bool {
	return isChinese(r) || isASCIILower(r) || isASCIIUpper(r) || isDigit(r)
}

// cleanParagraph scans raw left-to-right, producing the rune-clean text
// (only Chinese codepoints and lower-cased [a-z0-9]) and a back-map of one
// raw byte offset per emitted clean rune.
//
// Separator spacing for display purposes is *not* tracked here: word
// boundaries are recovered later from the back-map (see Paragraph.Tokens)
// and display spacing from adjacent token kinds, so the clean text never
// carries separator markers and the back-map stays a plain 1:1 monotonic
// mapping.
func cleanParagraph(raw string) (cleanRunes []rune, backMap []int) {
	runes := []rune(raw)
	// byteOffsets[i] = byte offset of runes[i] in raw.
	byteOffsets := make([]int, len(runes)+1)
	{
		off := 0
		for i, r := range runes {
			byteOffsets[i] = off
			off += runeLen(r)
		}
		byteOffsets[len(runes)] = off
	}

	cleanRunes = make([]rune, 0, len(runes))
	backMap = make([]int, 0, len(runes))

	i := 0
	for i < len(runes) {
		r := runes[i]

		switch {
		case isChinese(r):
			cleanRunes = append(cleanRunes, r)
			backMap = append(backMap, byteOffsets[i])
			i++

		case isASCIILower(r) || isASCIIUpper(r):
			start := i
			for i < len(runes) && (isASCIILower(runes[i]) || isASCIIUpper(runes[i])) {
				i++
			}
			for j := start; j < i; j++ {
				lr := runes[j]
				if isASCIIUpper(lr) {
					lr = lr - 'A' + 'a'
				}
				cleanRunes = append(cleanRunes, lr)
				backMap = append(backMap, byteOffsets[j])
			}

		case isDigit(r):
			start := i
			i++
			for {
				for i < len(runes) && isDigit(runes[i]) {
					i++
				}
				// Swallow a '.' followed by more digits, continuing the body.
				if i < len(runes) && runes[i] == '.' && i+1 < len(runes) && isDigit(runes[i+1]) {
					i++ // skip '.'
					continue
				}
				break
			}
			for j := start; j < i; j++ {
				if runes[j] == '.' {
					continue
				}
				cleanRunes = append(cleanRunes, runes[j])
				backMap = append(backMap, byteOffsets[j])
			}

		default:
			i++
		}
	}

	return cleanRunes, backMap
}

func runeLen(r rune) int {
	switch {
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r < 0x10000:
		return 3
	default:
		return 4
	}
}
