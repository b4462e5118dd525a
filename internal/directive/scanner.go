package directive

import "strings"

// span is a half-open byte range [start, end) within the scanned text.
type span struct {
	start, end int
}

// findObjectSpans scans s for top-level JSON object candidates and returns
// their byte ranges. Braces inside string literals are ignored and escapes
// are honored. An opening brace that is never closed (":-{" in prose) does
// not hide the objects after it: scanning resumes just past it.
func findObjectSpans(s string) []span {
	var spans []span
	offset := 0
	for rescans := 0; offset < len(s) && rescans < maxObjectStarts; rescans++ {
		found, open := scanObjectSpans(s[offset:])
		for _, sp := range found {
			spans = append(spans, span{sp.start + offset, sp.end + offset})
		}
		if open < 0 {
			break
		}
		offset += open + 1
	}
	return spans
}

// scanObjectSpans is one pass of findObjectSpans. open is the index of the
// object still unclosed at the end of s, or -1.
//
// It is safe to iterate bytes for the ASCII delimiters ({, }, ", \) because
// UTF-8 guarantees ASCII bytes never appear inside a multi-byte sequence.
func scanObjectSpans(s string) (spans []span, open int) {
	var depth int
	start := -1
	var inString, escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			// Quotes only delimit strings once we are inside an object;
			// prose apostrophes and quotes outside braces are ignored.
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					spans = append(spans, span{start, i + 1})
					start = -1
				}
			}
		}
	}

	if depth > 0 {
		return spans, start
	}
	return spans, -1
}

// scanState is the structural state at the end of a (possibly truncated)
// JSON fragment.
type scanState struct {
	stack    []byte // open containers, '{' or '['
	inString bool
	escape   bool
	lastSep  int // index of the last element separator outside strings, -1 if none
}

func scanStructure(s string) scanState {
	st := scanState{lastSep: -1}
	for i := 0; i < len(s); i++ {
		b := s[i]

		if st.escape {
			st.escape = false
			continue
		}
		if st.inString {
			if b == '\\' {
				st.escape = true
			} else if b == '"' {
				st.inString = false
			}
			continue
		}

		switch b {
		case '"':
			st.inString = true
		case '{', '[':
			st.stack = append(st.stack, b)
		case '}', ']':
			if n := len(st.stack); n > 0 {
				st.stack = st.stack[:n-1]
			}
		case ',':
			if len(st.stack) > 0 {
				st.lastSep = i
			}
		}
	}
	return st
}

// repairTruncated closes a JSON fragment that was cut off: an open string is
// terminated, dangling separators are dropped, and every open container is
// closed innermost first.
func repairTruncated(s string) string {
	st := scanStructure(s)

	var b strings.Builder
	b.Grow(len(s) + len(st.stack) + 1)

	body := s
	if st.inString {
		if st.escape {
			// A lone trailing backslash would escape our closing quote.
			body = body[:len(body)-1]
		}
		body += `"`
	} else {
		body = strings.TrimRight(body, " \t\r\n,:")
	}
	b.WriteString(body)

	for i := len(st.stack) - 1; i >= 0; i-- {
		if st.stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// trimToLastElement cuts s back to its last complete element boundary and
// rebalances it. It reports false when s has no separator to cut at.
func trimToLastElement(s string) (string, bool) {
	st := scanStructure(s)
	if st.lastSep < 0 {
		return "", false
	}
	return repairTruncated(s[:st.lastSep]), true
}

// ObjectSpans returns the [start, end) byte offsets of every balanced
// top-level object candidate in s, in order of appearance.
func ObjectSpans(s string) [][2]int {
	spans := findObjectSpans(s)
	out := make([][2]int, len(spans))
	for i, sp := range spans {
		out[i] = [2]int{sp.start, sp.end}
	}
	return out
}
