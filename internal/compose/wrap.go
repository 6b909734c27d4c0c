package compose

import (
	"strings"
)

// Wrap greedily word wraps s to at most width characters per line. Words
// longer than width are split. A blank input yields no lines.
func Wrap(s string, width int) []string {
	if width < 1 {
		width = 1
	}

	var (
		lines []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, string(cur))
			cur = cur[:0]
		}
	}

	for _, field := range strings.Fields(s) {
		word := []rune(field)
		for len(word) > 0 {
			need := len(word)
			if len(cur) > 0 {
				need++
			}
			if len(cur)+need <= width {
				if len(cur) > 0 {
					cur = append(cur, ' ')
				}
				cur = append(cur, word...)
				break
			}
			if len(word) <= width {
				flush()
				continue
			}
			// Long word: fill what is left of the current line with a chunk
			room := width - len(cur)
			if len(cur) > 0 {
				room--
			}
			if room < 1 {
				flush()
				continue
			}
			if len(cur) > 0 {
				cur = append(cur, ' ')
			}
			cur = append(cur, word[:room]...)
			word = word[room:]
			flush()
		}
	}
	flush()

	return lines
}

// WrapAll wraps every caption and flattens the result in order
func WrapAll(captions []string, width int) []string {
	var out []string
	for _, c := range captions {
		out = append(out, Wrap(c, width)...)
	}
	return out
}
