// Package export writes a buffer to the export directory as markdown or as
// a standalone HTML page.
package export

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/starford/markpad/internal/checksum"
	"github.com/starford/markpad/internal/models"
	"github.com/starford/markpad/internal/parser"
	"github.com/starford/markpad/internal/render"
	"github.com/starford/markpad/internal/storage"
)

// Format is an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ErrUnknownFormat is returned for formats other than markdown and html.
var ErrUnknownFormat = errors.New("export: unknown format")

// ParseFormat accepts "md", "markdown" and "html".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "md", "markdown", "":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) ext() string {
	if f == FormatHTML {
		return ".html"
	}
	return ".md"
}

// Exporter writes exports through a storage provider.
type Exporter struct {
	store    storage.Provider
	renderer *render.Renderer
	logger   *slog.Logger
	now      func() time.Time
}

// New returns an Exporter.
func New(store storage.Provider, renderer *render.Renderer, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, renderer: renderer, logger: logger, now: time.Now}
}

// Export writes content in format and returns the written file's metadata.
// The file name is derived from the document title and the current time.
func (e *Exporter) Export(content string, format Format) (models.ExportFile, error) {
	title := parser.DeriveTitle(content)
	name := FileName(title, e.now()) + format.ext()

	var data []byte
	switch format {
	case FormatMarkdown:
		data = []byte(content)
	case FormatHTML:
		body, err := e.renderer.Render(content)
		if err != nil {
			return models.ExportFile{}, fmt.Errorf("export: %w", err)
		}
		data = []byte(Page(title, body))
	default:
		return models.ExportFile{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if err := e.store.Write(name, data); err != nil {
		return models.ExportFile{}, fmt.Errorf("export: write %s: %w", name, err)
	}
	e.logger.Info("export: written", slog.String("name", name), slog.String("format", string(format)))

	return models.ExportFile{
		Name:      name,
		Format:    string(format),
		Size:      int64(len(data)),
		Checksum:  checksum.Sum(data),
		UpdatedAt: e.now(),
	}, nil
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// FileName returns "<slug>-<yyyymmdd-hhmmss>" for title at t.
func FileName(title string, t time.Time) string {
	slug := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" {
		slug = "document"
	}
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	return filepath.Base(slug + "-" + t.UTC().Format("20060102-150405"))
}

// Page wraps rendered HTML in a standalone document.
func Page(title, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title>\n</head>\n<body>\n<article class=\"markdown-body\">\n")
	b.WriteString(body)
	b.WriteString("</article>\n</body>\n</html>\n")
	return b.String()
}
