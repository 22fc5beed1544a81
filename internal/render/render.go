// Package render turns a buffer into the HTML shown in the preview pane and
// written by the HTML export.
package render

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	mdparser "github.com/starford/markpad/internal/parser"
)

// DiagramFunc renders diagram source (mermaid) to an SVG fragment.
type DiagramFunc func(source string) (svg string, err error)

// Renderer converts markdown to HTML. It is safe for concurrent use.
type Renderer struct {
	md       goldmark.Markdown
	diagrams DiagramFunc
	cache    *DiagramCache
	logger   *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithDiagrams enables server-side diagram rendering through fn. Without it
// diagram blocks are emitted as <pre class="mermaid"> for the browser.
func WithDiagrams(fn DiagramFunc) Option {
	return func(r *Renderer) {
		r.diagrams = fn
	}
}

// WithCache sets the diagram cache.
func WithCache(c *DiagramCache) Option {
	return func(r *Renderer) {
		r.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		r.logger = l
	}
}

// New returns a Renderer with GitHub-flavoured extensions.
func New(opts ...Option) *Renderer {
	r := &Renderer{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewDiagramCache(DefaultCacheSize)
	}
	r.md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithExtensions(&linkTargetBlank{}),
		goldmark.WithExtensions(&diagramExtension{r: r}),
	)
	return r
}

// Cache returns the diagram cache.
func (r *Renderer) Cache() *DiagramCache {
	return r.cache
}

// Render converts content to HTML. Frontmatter is not rendered.
func (r *Renderer) Render(content string) (string, error) {
	body := mdparser.Parse(content).Body
	var b bytes.Buffer
	if err := r.md.Convert([]byte(body), &b); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return b.String(), nil
}

type linkTargetBlank struct{}

func (e *linkTargetBlank) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithASTTransformers(
		util.Prioritized(&linkTargetBlankTransformer{}, 100),
	))
}

type linkTargetBlankTransformer struct{}

func (t *linkTargetBlankTransformer) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch link := n.(type) {
		case *ast.Link:
			if isExternal(link.Destination) {
				link.SetAttributeString("target", []byte("_blank"))
				link.SetAttributeString("rel", []byte("noopener noreferrer"))
			}
		case *ast.AutoLink:
			if link.AutoLinkType == ast.AutoLinkURL && isExternal(link.URL(reader.Source())) {
				link.SetAttributeString("target", []byte("_blank"))
				link.SetAttributeString("rel", []byte("noopener noreferrer"))
			}
		}
		return ast.WalkContinue, nil
	})
}

func isExternal(dest []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(dest)))
	return strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://") ||
		strings.HasPrefix(s, "//")
}
