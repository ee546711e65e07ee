package agent

import (
	"encoding/json"
	"strings"

	"github.com/youruser/patchwork/internal/diff"
)

// ChangeAction tells the host what kind of edit a change describes.
type ChangeAction string

const (
	ActionModify ChangeAction = "modify"
	ActionCreate ChangeAction = "create"
	ActionDelete ChangeAction = "delete"
)

// CodeChange is one file-level edit proposed by the model.
type CodeChange struct {
	File   string       `json:"file"`
	Diff   string       `json:"diff"`
	Reason string       `json:"reason"`
	Action ChangeAction `json:"action"`
}

// Response is the model's structured answer. RawContent always holds the
// full original text, so a response that failed structured parsing is
// still presentable to the user.
type Response struct {
	Plan     []string     `json:"plan"`
	Changes  []CodeChange `json:"changes"`
	Commands []string     `json:"commands"`
	Risks    []string     `json:"risks"`
	Summary  string       `json:"summary"`

	RawContent string `json:"-"`
}

// ParseResponse extracts a structured Response from model output. Three
// strategies, in order: a ```json fenced block, the first balanced JSON
// object found by brace scanning, and finally an unstructured fallback
// where the whole text becomes the summary. Never returns an error; a
// malformed response degrades to the fallback.
func ParseResponse(content string) *Response {
	if candidate := fencedJSON(content); candidate != "" {
		if r := decodeResponse(candidate, content); r != nil {
			return r
		}
	}
	if candidate := balancedObject(content); candidate != "" {
		if r := decodeResponse(candidate, content); r != nil {
			return r
		}
	}
	return &Response{
		Summary:    "could not parse as structured output",
		RawContent: content,
	}
}

func decodeResponse(candidate, content string) *Response {
	var r Response
	if err := json.Unmarshal([]byte(candidate), &r); err != nil {
		return nil
	}
	r.RawContent = content
	for i := range r.Changes {
		if r.Changes[i].Action == "" {
			r.Changes[i].Action = ActionModify
		}
	}
	return &r
}

// fencedJSON returns the body of the first ```json fenced block, or "".
func fencedJSON(content string) string {
	start := strings.Index(content, "```json")
	if start < 0 {
		return ""
	}
	rest := content[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end < 0 {
		// Unterminated fence, common when output was truncated. Take the
		// remainder and let the decoder judge it.
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// balancedObject finds the first top-level {...} span, tracking strings
// and escapes so braces inside string values do not confuse the count.
func balancedObject(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1]
				}
			}
		}
	}
	return ""
}

// HasChanges reports whether the response proposes any file edits.
func (r *Response) HasChanges() bool {
	return len(r.Changes) > 0
}

// ParseDiffs parses every change's diff text into file diffs, flattened in
// change order. Changes with blank diff text are skipped: delete actions
// and prose-only changes carry no diff.
func (r *Response) ParseDiffs() []diff.FileDiff {
	var files []diff.FileDiff
	for _, ch := range r.Changes {
		if strings.TrimSpace(ch.Diff) == "" {
			continue
		}
		files = append(files, diff.Parse(ch.Diff)...)
	}
	return files
}
