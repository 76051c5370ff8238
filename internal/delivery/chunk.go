package delivery

import (
	"strings"
	"unicode/utf16"
)

// MaxMessageLength is the transport's per-message limit, counted in UTF-16
// code units the way Telegram counts it.
const MaxMessageLength = 4096

// Chunk splits text into pieces of at most max UTF-16 code units, breaking
// on line boundaries. A single line longer than max is cut hard, never
// inside a character.
func Chunk(text string, max int) []string {
	if max <= 0 {
		max = MaxMessageLength
	}
	if text == "" {
		return nil
	}
	if textLen(text) <= max {
		return []string{text}
	}

	var (
		chunks []string
		cur    []string
		curLen int
	)
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, "\n"))
			cur, curLen = nil, 0
		}
	}

	for _, line := range strings.Split(text, "\n") {
		lineLen := textLen(line)
		if lineLen > max {
			flush()
			for lineLen > max {
				var head string
				head, line = splitUnits(line, max)
				chunks = append(chunks, head)
				lineLen = textLen(line)
			}
			if lineLen == 0 {
				continue
			}
		}

		need := lineLen
		if len(cur) > 0 {
			need++
		}
		if len(cur) > 0 && curLen+need > max {
			flush()
			need = lineLen
		}
		cur = append(cur, line)
		curLen += need
	}
	flush()
	return chunks
}

// textLen counts s in UTF-16 code units.
func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// splitUnits cuts s after at most n UTF-16 code units, on a rune boundary.
// It always takes at least one rune so a caller's loop makes progress.
func splitUnits(s string, n int) (string, string) {
	used := 0
	for pos, r := range s {
		l := utf16.RuneLen(r)
		if used+l > n && pos > 0 {
			return s[:pos], s[pos:]
		}
		used += l
	}
	return s, ""
}
