package parser

import (
	"strconv"
	"strings"
)

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9') ||
		b == '_'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// isIPByte accepts the characters of an IPv4/IPv6 address with optional port.
func isIPByte(b byte) bool {
	return isDigit(b) ||
		(b >= 'a' && b <= 'f') ||
		(b >= 'A' && b <= 'F') ||
		b == '.' || b == ':'
}

// findToken returns the index of the first occurrence of tok in s that is
// not part of a longer word, or -1.
func findToken(s, tok string) int {
	if tok == "" {
		return -1
	}
	from := 0
	for from <= len(s)-len(tok) {
		i := strings.Index(s[from:], tok)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(tok)
		if (i == 0 || !isWordByte(s[i-1])) && (end == len(s) || !isWordByte(s[end])) {
			return i
		}
		from = i + 1
	}
	return -1
}

// readInt reads an optionally negative decimal integer starting at pos.
// It returns the value, the position after the last digit and whether a
// value was read. A digit run that overflows int64 is not a value.
func readInt(s string, pos int) (int64, int, bool) {
	start := pos
	if pos < len(s) && s[pos] == '-' {
		pos++
	}
	digits := pos
	for pos < len(s) && isDigit(s[pos]) {
		pos++
	}
	if pos == digits {
		return 0, pos, false
	}
	v, err := strconv.ParseInt(s[start:pos], 10, 64)
	if err != nil {
		return 0, pos, false
	}
	return v, pos, true
}

// readFieldInt finds "<name>:" preceded by a non-word byte (or the start of
// s) and reads the integer that follows it.
func readFieldInt(s, name string) (int64, int, bool) {
	key := name + ":"
	from := 0
	for from < len(s) {
		i := strings.Index(s[from:], key)
		if i < 0 {
			return 0, 0, false
		}
		i += from
		if i == 0 || !isWordByte(s[i-1]) {
			if v, end, ok := readInt(s, i+len(key)); ok {
				return v, end, true
			}
		}
		from = i + 1
	}
	return 0, 0, false
}

// splitSender cuts the "<- sender" suffix off a line. The body is what comes
// before the arrow; sender is empty when the suffix is absent or not an
// address-like token.
func splitSender(line string) (body, sender string) {
	i := strings.LastIndex(line, "<-")
	if i < 0 {
		return line, ""
	}
	body = strings.TrimRight(line[:i], " \t")

	tail := line[i+2:]
	pos := 0
	for pos < len(tail) && (tail[pos] == '/' || tail[pos] == ' ' || tail[pos] == '\t') {
		pos++
	}
	tail = tail[pos:]
	if tail == "" {
		return body, ""
	}
	for j := 0; j < len(tail); j++ {
		if !isIPByte(tail[j]) {
			return body, ""
		}
	}
	return body, tail
}

// splitValues splits a comma separated list, trimming blanks and dropping
// empty items.
func splitValues(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
