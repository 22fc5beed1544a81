// Package parser derives display metadata (title, preview) from Markdown buffers.
package parser

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultTitle is used when a buffer has no usable line.
	DefaultTitle = "Untitled Document"

	MaxTitleLength   = 50
	MaxPreviewLength = 100
)

var (
	headingRe = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*\s*$`)
	newlineRe = regexp.MustCompile(`(\r?\n)+`)
)

// Result holds the output of parsing a Markdown buffer.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Title       string
	Preview     string
}

// Parse splits frontmatter from body and derives the title and preview.
func Parse(content string) *Result {
	fm, body := splitFrontmatter([]byte(content))
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       deriveTitle(fm, body),
		Preview:     Preview(content),
	}
}

// DeriveTitle returns the display title for a buffer: the frontmatter title,
// else the first heading, else the first non-blank line, truncated to
// MaxTitleLength characters. Empty buffers get DefaultTitle.
func DeriveTitle(content string) string {
	fm, body := splitFrontmatter([]byte(content))
	return deriveTitle(fm, body)
}

// Preview returns the first MaxPreviewLength characters of content with
// newlines collapsed to single spaces.
func Preview(content string) string {
	return newlineRe.ReplaceAllString(truncate(content, MaxPreviewLength), " ")
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Not frontmatter after all (a horizontal rule, most likely).
		return nil, string(data)
	}

	return fm, body
}

func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			if s, ok := t.(string); ok && strings.TrimSpace(s) != "" {
				return truncate(strings.TrimSpace(s), MaxTitleLength)
			}
		}
	}

	lines := strings.Split(body, "\n")
	for _, line := range lines {
		if m := headingRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return truncate(m[1], MaxTitleLength)
		}
	}
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return truncate(trimmed, MaxTitleLength)
		}
	}
	return DefaultTitle
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
