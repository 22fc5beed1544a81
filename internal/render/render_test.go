package render

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_Basics(t *testing.T) {
	r := New()
	html, err := r.Render("# Title\n\nSome *text* and ~~gone~~.\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	require.NoError(t, err)
	assert.Contains(t, html, "<h1")
	assert.Contains(t, html, "<em>text</em>")
	assert.Contains(t, html, "<del>gone</del>")
	assert.Contains(t, html, "<table>")
}

func TestRender_SkipsFrontmatter(t *testing.T) {
	r := New()
	html, err := r.Render("---\ntitle: Hidden\n---\n# Body\n")
	require.NoError(t, err)
	assert.NotContains(t, html, "Hidden")
	assert.Contains(t, html, "Body")
}

func TestRender_ExternalLinksOpenInNewTab(t *testing.T) {
	r := New()
	html, err := r.Render("[out](https://example.com) and [in](/local)")
	require.NoError(t, err)
	assert.Contains(t, html, `href="https://example.com" target="_blank" rel="noopener noreferrer"`)
	assert.Contains(t, html, `<a href="/local">in</a>`)
}

func TestRender_DiagramWithoutRendererLeftForBrowser(t *testing.T) {
	r := New()
	html, err := r.Render("```mermaid\ngraph TD; A-->B\n```\n")
	require.NoError(t, err)
	assert.Contains(t, html, `<pre class="mermaid"`)
	assert.Contains(t, html, "A--&gt;B")
}

func TestRender_DiagramCached(t *testing.T) {
	var calls atomic.Int32
	r := New(WithDiagrams(func(src string) (string, error) {
		calls.Add(1)
		return "<svg>" + strings.TrimSpace(src) + "</svg>", nil
	}))

	doc := "```mermaid\ngraph LR\n```\n\n```go\nfmt.Println()\n```\n"
	for i := 0; i < 3; i++ {
		html, err := r.Render(doc)
		require.NoError(t, err)
		assert.Contains(t, html, `<div class="diagram"`)
		assert.Contains(t, html, "<svg>graph LR</svg>")
		assert.Contains(t, html, `class="language-go"`)
	}
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, r.Cache().Len())
}

func TestRender_DiagramFailureFallsBack(t *testing.T) {
	r := New(WithDiagrams(func(string) (string, error) {
		return "", errors.New("boom")
	}))
	html, err := r.Render("```mermaid\nbad\n```\n")
	require.NoError(t, err)
	assert.Contains(t, html, "diagram-error")
	assert.Equal(t, 0, r.Cache().Len())
}

func TestDiagramCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewDiagramCache(2)
	c.Put("a", "A")
	c.Put("b", "B")
	_, _ = c.Get("a")
	c.Put("c", "C")

	_, ok := c.Get("b")
	assert.False(t, ok)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", v)
	assert.Equal(t, 2, c.Len())
}
