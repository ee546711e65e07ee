package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// NullDevice is the path sentinel marking file creation or deletion.
const NullDevice = "/dev/null"

// LineKind classifies a single diff line.
type LineKind int

const (
	Context LineKind = iota
	Add
	Remove
)

// DiffLine is one line of a hunk. Immutable once parsed. SourceLine is the
// 1-based line number in the old file for Context and Remove lines, 0 for
// Add lines (which have no position in the old file).
type DiffLine struct {
	Kind       LineKind
	Text       string
	SourceLine int
}

// Hunk is one contiguous region of change: old/new start line and count,
// plus the classified lines. Starts are 1-based. Counts come from the
// header and may disagree with the line tally; the parser trusts the line
// stream rather than hard-failing on the mismatch.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []DiffLine
}

// FileDiff is the full set of hunks for one file.
type FileDiff struct {
	OldPath  string
	NewPath  string
	Hunks    []Hunk
	IsCreate bool // old path is /dev/null
	IsDelete bool // new path is /dev/null
}

// Path returns the path this diff targets: the new path, or the old path
// for deletions.
func (fd *FileDiff) Path() string {
	if fd.IsDelete {
		return fd.OldPath
	}
	return fd.NewPath
}

// Stats holds derived change counts for a file diff.
type Stats struct {
	Additions int
	Deletions int
}

// Stats counts Add and Remove lines across all hunks.
func (fd *FileDiff) Stats() Stats {
	var s Stats
	for _, h := range fd.Hunks {
		for _, l := range h.Lines {
			switch l.Kind {
			case Add:
				s.Additions++
			case Remove:
				s.Deletions++
			}
		}
	}
	return s
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse scans unified-diff text into a sequence of per-file diffs. Parsing
// is tolerant: a "--- " line not followed by "+++ " is discarded and the
// scan resumes at the next file header, unrecognized hunk lines become
// context lines, and nothing in here returns an error or panics.
func Parse(text string) []FileDiff {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var files []FileDiff
	i := 0
	for i < len(lines) {
		if !strings.HasPrefix(lines[i], "--- ") {
			i++
			continue
		}
		if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
			// Malformed file header pair: skip and resume at the next "--- ".
			i++
			continue
		}

		oldPath := parseHeaderPath(lines[i][4:])
		newPath := parseHeaderPath(lines[i+1][4:])
		fd := FileDiff{
			OldPath:  oldPath,
			NewPath:  newPath,
			IsCreate: oldPath == NullDevice,
			IsDelete: newPath == NullDevice,
		}
		i += 2

		for i < len(lines) {
			m := hunkHeader.FindStringSubmatch(lines[i])
			if m == nil {
				break
			}
			hunk, next := parseHunk(lines, i+1, m)
			fd.Hunks = append(fd.Hunks, hunk)
			i = next
		}

		files = append(files, fd)
	}
	return files
}

// parseHunk consumes hunk body lines starting at index start. It returns
// the hunk and the index of the first unconsumed line. The hunk ends at a
// new hunk header, a new file header, or a bare empty line once the
// running tallies satisfy both header counts; the latter handles diffs
// with no explicit delimiter after the last hunk.
func parseHunk(lines []string, start int, header []string) (Hunk, int) {
	h := Hunk{
		OldStart: atoi(header[1]),
		OldCount: atoiDefault(header[2], 1),
		NewStart: atoi(header[3]),
		NewCount: atoiDefault(header[4], 1),
	}

	oldLine := h.OldStart
	ctxN, addN, remN := 0, 0, 0

	i := start
	for i < len(lines) {
		line := lines[i]
		if hunkHeader.MatchString(line) || strings.HasPrefix(line, "--- ") {
			break
		}
		if line == "" && ctxN+remN >= h.OldCount && ctxN+addN >= h.NewCount {
			i++
			break
		}

		switch {
		case strings.HasPrefix(line, "+"):
			h.Lines = append(h.Lines, DiffLine{Kind: Add, Text: line[1:]})
			addN++
		case strings.HasPrefix(line, "-"):
			h.Lines = append(h.Lines, DiffLine{Kind: Remove, Text: line[1:], SourceLine: oldLine})
			oldLine++
			remN++
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file" marker, not content.
		case line == "":
			// Empty context line emitted without the leading space.
			h.Lines = append(h.Lines, DiffLine{Kind: Context, Text: "", SourceLine: oldLine})
			oldLine++
			ctxN++
		case strings.HasPrefix(line, " "):
			h.Lines = append(h.Lines, DiffLine{Kind: Context, Text: line[1:], SourceLine: oldLine})
			oldLine++
			ctxN++
		default:
			// Unrecognized leading character: treat as context rather than
			// failing on a slightly mangled diff.
			h.Lines = append(h.Lines, DiffLine{Kind: Context, Text: line, SourceLine: oldLine})
			oldLine++
			ctxN++
		}
		i++
	}

	return h, i
}

// parseHeaderPath cleans a "--- "/"+++ " header value: drop a trailing
// timestamp (tab-separated) and a leading a/ or b/ prefix. No other path
// normalization happens here.
func parseHeaderPath(field string) string {
	field = strings.TrimSpace(field)
	if tab := strings.IndexByte(field, '\t'); tab >= 0 {
		field = field[:tab]
	}
	if strings.HasPrefix(field, "a/") || strings.HasPrefix(field, "b/") {
		field = field[2:]
	}
	return field
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	return atoi(s)
}

var fenceOpen = regexp.MustCompile("^```(diff|patch)\\s*$")

// ExtractBlocks locates fenced code blocks tagged as diff content inside
// arbitrary model output and parses each independently, concatenating the
// results. This is how diffs are pulled out of a larger natural-language
// response when the model did not use the structured changes array.
func ExtractBlocks(text string) []FileDiff {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var files []FileDiff
	var block []string
	inBlock := false
	for _, line := range lines {
		if inBlock {
			if strings.HasPrefix(line, "```") {
				files = append(files, Parse(strings.Join(block, "\n"))...)
				block = block[:0]
				inBlock = false
				continue
			}
			block = append(block, line)
			continue
		}
		if fenceOpen.MatchString(strings.TrimSpace(line)) {
			inBlock = true
		}
	}
	// Unterminated fence: parse what accumulated rather than dropping it.
	if inBlock && len(block) > 0 {
		files = append(files, Parse(strings.Join(block, "\n"))...)
	}
	return files
}
