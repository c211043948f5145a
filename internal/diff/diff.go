// Package diff classifies the lines of a unified diff so a presentation layer
// can render them side by side with old and new line numbers.
package diff

import (
	"regexp"
	"strconv"
	"strings"
)

type Kind string

const (
	Addition Kind = "addition"
	Deletion Kind = "deletion"
	Context  Kind = "context"
	Meta     Kind = "meta"
)

// Line is one classified diff line. Text has the leading marker stripped for
// additions, deletions and context lines. Meta lines keep their full text and
// carry no line numbers.
type Line struct {
	Kind    Kind   `json:"kind"`
	OldLine *int   `json:"oldLine"`
	NewLine *int   `json:"newLine"`
	Text    string `json:"text"`
}

var hunkHeader = regexp.MustCompile(`^@@\s+-(\d+)(?:,(\d+))?\s+\+(\d+)(?:,(\d+))?\s+@@`)

var fileHeaderPrefixes = []string{"diff ", "index ", "---", "+++"}

// Parse classifies every line of text. A hunk header resets the old and new
// counters; file headers are meta regardless of the counters. A single
// trailing newline does not produce an extra line.
func Parse(text string) []Line {
	if text == "" {
		return []Line{}
	}

	raw := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	lines := make([]Line, 0, len(raw))

	var oldLine, newLine int
	for _, line := range raw {
		if strings.HasPrefix(line, "@@") {
			if match := hunkHeader.FindStringSubmatch(line); match != nil {
				oldLine, _ = strconv.Atoi(match[1])
				newLine, _ = strconv.Atoi(match[3])
			}
			lines = append(lines, Line{Kind: Meta, Text: line})
			continue
		}

		if isFileHeader(line) {
			lines = append(lines, Line{Kind: Meta, Text: line})
			continue
		}

		switch {
		case strings.HasPrefix(line, "+"):
			lines = append(lines, Line{Kind: Addition, NewLine: number(newLine), Text: line[1:]})
			newLine++
		case strings.HasPrefix(line, "-"):
			lines = append(lines, Line{Kind: Deletion, OldLine: number(oldLine), Text: line[1:]})
			oldLine++
		case strings.HasPrefix(line, " "):
			lines = append(lines, Line{Kind: Context, OldLine: number(oldLine), NewLine: number(newLine), Text: line[1:]})
			oldLine++
			newLine++
		default:
			lines = append(lines, Line{Kind: Meta, Text: line})
		}
	}

	return lines
}

// Split separates file-header meta lines from hunk rows. Hunk headers stay
// with the body so each hunk keeps its "@@" row.
func Split(lines []Line) (header, body []Line) {
	for _, line := range lines {
		if line.Kind == Meta && !strings.HasPrefix(line.Text, "@@") {
			header = append(header, line)
			continue
		}
		body = append(body, line)
	}
	return header, body
}

// Gutter returns the single-character marker shown next to a line.
func (l Line) Gutter() string {
	switch l.Kind {
	case Addition:
		return "+"
	case Deletion:
		return "-"
	case Context:
		return " "
	default:
		return "@"
	}
}

func isFileHeader(line string) bool {
	for _, prefix := range fileHeaderPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func number(n int) *int {
	return &n
}
