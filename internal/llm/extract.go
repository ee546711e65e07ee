package llm

import (
	"strconv"
	"strings"
)

// ExtractStringField pulls the decoded value of a nested string field out of
// a JSON fragment without a JSON parser. Streaming providers emit fragments
// that are not always standalone-valid JSON, so this scans for the literal
// object key (e.g. "delta"), then the field key (e.g. "content"), then the
// quoted value after the next colon. Returns "" if the keys are absent or
// the fragment is malformed; a bad fragment must never abort the stream.
func ExtractStringField(fragment, objKey, fieldKey string) string {
	objIdx := strings.Index(fragment, `"`+objKey+`"`)
	if objIdx < 0 {
		return ""
	}
	rest := fragment[objIdx+len(objKey)+2:]

	fieldIdx := strings.Index(rest, `"`+fieldKey+`"`)
	if fieldIdx < 0 {
		return ""
	}
	rest = rest[fieldIdx+len(fieldKey)+2:]

	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return ""
	}
	rest = rest[colon+1:]

	open := strings.IndexByte(rest, '"')
	if open < 0 {
		return ""
	}
	rest = rest[open+1:]

	end := scanStringEnd(rest)
	if end < 0 {
		return ""
	}
	return Unescape(rest[:end])
}

// scanStringEnd returns the index of the first unescaped double quote.
// A backslash consumes the following byte, so an escaped quote is never
// treated as the terminator.
func scanStringEnd(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// Unescape decodes standard JSON string escapes. A malformed \uXXXX escape
// is passed through unchanged rather than failing.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'u':
			if i+4 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
					b.WriteRune(rune(v))
					i += 4
					continue
				}
			}
			b.WriteString(`\u`)
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

const rawPreviewLimit = 500

// ExtractMessageContent pulls the assistant content out of a complete
// (non-streaming) chat response body: the value of the first "content" key
// found after the "choices" marker. Unlike the per-fragment extractor this
// is a terminal, user-visible step, so on total failure it returns a
// diagnostic string with a truncated preview of the raw payload instead of
// an empty string.
func ExtractMessageContent(body string) string {
	if content := ExtractStringField(body, "choices", "content"); content != "" {
		return content
	}
	preview := body
	if len(preview) > rawPreviewLimit {
		preview = preview[:rawPreviewLimit] + "..."
	}
	return "Unable to parse model response. Raw payload: " + preview
}
