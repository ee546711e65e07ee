package diff

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/youruser/patchwork/internal/logging"
)

var log = logging.Get()

// Outcome is the terminal state of one file's apply attempt. The three
// states are mutually exclusive: a file is either fully written or
// untouched.
type Outcome int

const (
	Applied Outcome = iota
	Conflicted
	Errored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Conflicted:
		return "conflicted"
	default:
		return "errored"
	}
}

// PatchResult reports the outcome of applying one FileDiff. Conflicts and
// errors are expected, frequently-occurring outcomes, not faults, so they
// are values rather than error returns.
type PatchResult struct {
	Path      string
	Outcome   Outcome
	Additions int // Applied only
	Deletions int // Applied only
	Reason    string
	HunkIndex int // 0-based index of the conflicting hunk; -1 otherwise
}

func applied(path string, adds, dels int) PatchResult {
	return PatchResult{Path: path, Outcome: Applied, Additions: adds, Deletions: dels, HunkIndex: -1}
}

func conflicted(path, reason string, hunkIndex int) PatchResult {
	return PatchResult{Path: path, Outcome: Conflicted, Reason: reason, HunkIndex: hunkIndex}
}

func errored(path, reason string) PatchResult {
	return PatchResult{Path: path, Outcome: Errored, Reason: reason, HunkIndex: -1}
}

// FileStore is the external file access collaborator. Paths are opaque
// strings scoped to a project root supplied by the host.
type FileStore interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Delete(path string) error
	Exists(path string) bool
}

// Applier applies parsed file diffs against a file store. With Preview set
// it performs identical validation but never mutates the store.
//
// The applier assumes exclusive access to the target file for the duration
// of one Apply call; the host must serialize concurrent edits to the same
// path.
type Applier struct {
	Store   FileStore
	Preview bool
}

// Apply validates and applies one file diff, producing exactly one result.
// Creation and deletion are separate code paths from hunk application.
func (a *Applier) Apply(fd FileDiff) PatchResult {
	path := fd.Path()
	if path == "" {
		return errored(path, "diff has no target path")
	}

	switch {
	case fd.IsCreate:
		return a.applyCreate(fd, path)
	case fd.IsDelete:
		return a.applyDelete(path)
	}

	data, err := a.Store.Read(path)
	if err != nil {
		return errored(path, fmt.Sprintf("read failed: %v", err))
	}

	newLines, result := ApplyToLines(path, fd, SplitLines(string(data)))
	if result.Outcome != Applied {
		return result
	}

	if !a.Preview {
		if err := a.Store.Write(path, []byte(JoinLines(newLines))); err != nil {
			return errored(path, fmt.Sprintf("write failed: %v", err))
		}
	}
	return result
}

// applyCreate writes a new file from the diff's added lines. The parent
// directory must already exist; directory creation belongs to the host.
func (a *Applier) applyCreate(fd FileDiff, path string) PatchResult {
	if a.Store.Exists(path) {
		return errored(path, "file already exists")
	}
	if dir := filepath.Dir(path); dir != "." && !a.Store.Exists(dir) {
		return errored(path, fmt.Sprintf("parent directory does not exist: %s", dir))
	}

	var content []string
	adds := 0
	for _, h := range fd.Hunks {
		for _, l := range h.Lines {
			if l.Kind == Add {
				content = append(content, l.Text)
				adds++
			}
		}
	}

	if !a.Preview {
		if err := a.Store.Write(path, []byte(JoinLines(content))); err != nil {
			return errored(path, fmt.Sprintf("write failed: %v", err))
		}
	}
	return applied(path, adds, 0)
}

func (a *Applier) applyDelete(path string) PatchResult {
	if !a.Store.Exists(path) {
		return errored(path, "file does not exist")
	}
	if !a.Preview {
		if err := a.Store.Delete(path); err != nil {
			return errored(path, fmt.Sprintf("delete failed: %v", err))
		}
	}
	return applied(path, 0, 0)
}

// ApplyToLines validates every hunk of fd against the current lines and,
// only if all pass, splices the edits into a new line slice. No mutation
// happens when any hunk conflicts.
//
// Remove lines must match the current content (whitespace-trimmed) or the
// whole file conflicts. Context lines are compared the same way but a
// mismatch only logs drift: models often reproduce context with whitespace
// differences, and failing there would reject otherwise sound patches.
func ApplyToLines(path string, fd FileDiff, lines []string) ([]string, PatchResult) {
	for idx, h := range fd.Hunks {
		if result, ok := validateHunk(path, h, idx, lines); !ok {
			return nil, result
		}
	}

	// Apply last-to-first by old start so earlier edits cannot shift the
	// line offsets of hunks still pending.
	order := make([]int, len(fd.Hunks))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return fd.Hunks[order[a]].OldStart > fd.Hunks[order[b]].OldStart
	})

	result := make([]string, len(lines))
	copy(result, lines)

	adds, dels := 0, 0
	for _, idx := range order {
		h := fd.Hunks[idx]
		start := hunkStart(h)

		var newSpan []string
		span := 0
		pos := start
		for _, l := range h.Lines {
			switch l.Kind {
			case Context:
				if pos < len(result) {
					// Carry the file's actual line forward, not the diff's
					// copy, so tolerated drift never rewrites content.
					newSpan = append(newSpan, result[pos])
				} else {
					newSpan = append(newSpan, l.Text)
				}
				pos++
				span++
			case Remove:
				pos++
				span++
				dels++
			case Add:
				newSpan = append(newSpan, l.Text)
				adds++
			}
		}

		// Replace the old span as one block: build a new slice instead of
		// shuffling indices in place. Context past EOF inflates span beyond
		// the file, so the end is clamped.
		end := min(start+span, len(result))
		spliced := make([]string, 0, len(result)-(end-start)+len(newSpan))
		spliced = append(spliced, result[:start]...)
		spliced = append(spliced, newSpan...)
		spliced = append(spliced, result[end:]...)
		result = spliced
	}

	return result, applied(path, adds, dels)
}

// hunkStart converts the 1-based old start to a 0-based index. Creates
// against empty files use old start 0; clamp rather than reject.
func hunkStart(h Hunk) int {
	start := h.OldStart - 1
	if start < 0 {
		start = 0
	}
	return start
}

func validateHunk(path string, h Hunk, idx int, lines []string) (PatchResult, bool) {
	start := hunkStart(h)
	if start > len(lines) {
		return conflicted(path, fmt.Sprintf("hunk %d: line out of range (start %d, file has %d lines)", idx, h.OldStart, len(lines)), idx), false
	}

	pos := start
	for _, l := range h.Lines {
		switch l.Kind {
		case Remove:
			if pos >= len(lines) {
				return conflicted(path, fmt.Sprintf("hunk %d: line out of range (removing line %d, file has %d lines)", idx, pos+1, len(lines)), idx), false
			}
			if strings.TrimSpace(lines[pos]) != strings.TrimSpace(l.Text) {
				return conflicted(path, fmt.Sprintf("hunk %d: expected %q at line %d, found %q", idx, l.Text, pos+1, lines[pos]), idx), false
			}
			pos++
		case Context:
			if pos < len(lines) && strings.TrimSpace(lines[pos]) != strings.TrimSpace(l.Text) {
				// Soft inconsistency: logged, never blocking.
				log.Debug("context drift in %s hunk %d at line %d: diff has %q, file has %q",
					path, idx, pos+1, l.Text, lines[pos])
			}
			pos++
		}
	}
	return PatchResult{}, true
}

// SplitLines splits file content into lines. Handles both LF and CRLF.
// A trailing newline does not produce an extra empty line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// JoinLines joins lines back into file content with a trailing newline.
func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
