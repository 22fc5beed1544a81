package render

import (
	"bytes"
	"container/list"
	"log/slog"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/starford/markpad/internal/checksum"
)

// DefaultCacheSize bounds the number of cached diagrams.
const DefaultCacheSize = 64

var diagramKind = ast.NewNodeKind("Diagram")

// diagramLanguages are the fenced-block info strings rendered as diagrams.
var diagramLanguages = map[string]bool{"mermaid": true}

type diagramBlock struct {
	ast.BaseBlock
	Source string
}

func (n *diagramBlock) Kind() ast.NodeKind {
	return diagramKind
}

func (n *diagramBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Source": n.Source}, nil)
}

type diagramExtension struct {
	r *Renderer
}

func (e *diagramExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithASTTransformers(
		util.Prioritized(&diagramTransformer{}, 110),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&diagramHTMLRenderer{r: e.r}, 500),
	))
}

type diagramTransformer struct{}

func (t *diagramTransformer) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	source := reader.Source()
	var found []*ast.FencedCodeBlock
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if fenced, ok := n.(*ast.FencedCodeBlock); ok && diagramLanguages[string(fenced.Language(source))] {
			found = append(found, fenced)
		}
		return ast.WalkContinue, nil
	})

	for _, fenced := range found {
		var b bytes.Buffer
		lines := fenced.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(source))
		}
		parent := fenced.Parent()
		if parent == nil {
			continue
		}
		parent.ReplaceChild(parent, fenced, &diagramBlock{Source: b.String()})
	}
}

type diagramHTMLRenderer struct {
	r *Renderer
}

func (d *diagramHTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(diagramKind, d.render)
}

func (d *diagramHTMLRenderer) render(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*diagramBlock)
	key := checksum.String(n.Source)

	if d.r.diagrams == nil {
		writeSourceBlock(w, key, n.Source, "mermaid")
		return ast.WalkSkipChildren, nil
	}

	svg, ok := d.r.cache.Get(key)
	if !ok {
		var err error
		svg, err = d.r.diagrams(n.Source)
		if err != nil {
			d.r.logger.Warn("render: diagram failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
			writeSourceBlock(w, key, n.Source, "mermaid diagram-error")
			return ast.WalkSkipChildren, nil
		}
		d.r.cache.Put(key, svg)
	}

	_, _ = w.WriteString(`<div class="diagram" data-diagram-key="` + key + `">`)
	_, _ = w.WriteString(svg)
	_, _ = w.WriteString("</div>\n")
	return ast.WalkSkipChildren, nil
}

func writeSourceBlock(w util.BufWriter, key, source, class string) {
	_, _ = w.WriteString(`<pre class="` + class + `" data-diagram-key="` + key + `">`)
	_, _ = w.Write(util.EscapeHTML([]byte(source)))
	_, _ = w.WriteString("</pre>\n")
}

// DiagramCache is a bounded least-recently-used map from diagram source
// checksum to rendered SVG.
type DiagramCache struct {
	max int

	mu    sync.Mutex
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key string
	svg string
}

// NewDiagramCache returns a cache holding at most max diagrams.
func NewDiagramCache(max int) *DiagramCache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &DiagramCache{max: max, order: list.New(), items: make(map[string]*list.Element)}
}

// Get returns the cached SVG for key.
func (c *DiagramCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).svg, true
}

// Put stores svg under key, evicting the least recently used entry when full.
func (c *DiagramCache) Put(key, svg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).svg = svg
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, svg: svg})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached diagrams.
func (c *DiagramCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
