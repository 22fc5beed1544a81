package parser

import (
	"strings"
	"testing"
)

func TestDeriveTitle_Heading(t *testing.T) {
	if got := DeriveTitle("# Hello\nBody"); got != "Hello" {
		t.Errorf("title = %q, want %q", got, "Hello")
	}
}

func TestDeriveTitle_PlainText(t *testing.T) {
	if got := DeriveTitle("just text"); got != "just text" {
		t.Errorf("title = %q, want %q", got, "just text")
	}
}

func TestDeriveTitle_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t\n"} {
		if got := DeriveTitle(in); got != DefaultTitle {
			t.Errorf("DeriveTitle(%q) = %q, want %q", in, got, DefaultTitle)
		}
	}
}

func TestDeriveTitle_Truncated(t *testing.T) {
	long := strings.Repeat("abcdefghij", 8)
	got := DeriveTitle(long)
	if got != long[:MaxTitleLength] {
		t.Errorf("title = %q (len %d), want first %d chars", got, len(got), MaxTitleLength)
	}
}

func TestDeriveTitle_TruncatesRunesNotBytes(t *testing.T) {
	long := strings.Repeat("ж", 60)
	got := DeriveTitle(long)
	if n := len([]rune(got)); n != MaxTitleLength {
		t.Errorf("rune count = %d, want %d", n, MaxTitleLength)
	}
}

func TestDeriveTitle_HeadingAfterText(t *testing.T) {
	if got := DeriveTitle("intro line\n\n## Section Two ##\nmore"); got != "Section Two" {
		t.Errorf("title = %q, want %q", got, "Section Two")
	}
}

func TestDeriveTitle_Frontmatter(t *testing.T) {
	src := "---\ntitle: From Meta\ntags: [a]\n---\n# Heading\n"
	if got := DeriveTitle(src); got != "From Meta" {
		t.Errorf("title = %q, want %q", got, "From Meta")
	}
}

func TestDeriveTitle_FrontmatterWithoutTitle(t *testing.T) {
	src := "---\ntags: [a]\n---\nfirst body line\n"
	if got := DeriveTitle(src); got != "first body line" {
		t.Errorf("title = %q, want %q", got, "first body line")
	}
}

func TestDeriveTitle_HashtagIsNotHeading(t *testing.T) {
	if got := DeriveTitle("#tag line\nnext"); got != "#tag line" {
		t.Errorf("title = %q, want %q", got, "#tag line")
	}
}

func TestPreview(t *testing.T) {
	got := Preview("# Title\n\nline one\r\nline two")
	if got != "# Title line one line two" {
		t.Errorf("preview = %q", got)
	}
}

func TestPreview_Truncated(t *testing.T) {
	got := Preview(strings.Repeat("x", 250))
	if len(got) != MaxPreviewLength {
		t.Errorf("len = %d, want %d", len(got), MaxPreviewLength)
	}
}

func TestParse(t *testing.T) {
	res := Parse("---\ntitle: T\n---\nbody text")
	if res.Title != "T" {
		t.Errorf("title = %q", res.Title)
	}
	if res.Body != "body text" {
		t.Errorf("body = %q", res.Body)
	}
	if res.Frontmatter["title"] != "T" {
		t.Errorf("frontmatter = %v", res.Frontmatter)
	}
}

func TestParse_InvalidYAMLFallsBackToBody(t *testing.T) {
	src := "---\n[unclosed\n---\ntext"
	res := Parse(src)
	if res.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", res.Frontmatter)
	}
	if res.Body != src {
		t.Errorf("body = %q", res.Body)
	}
}
