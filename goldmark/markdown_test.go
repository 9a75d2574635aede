package goldmark_test

import (
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/nageoffer/ragent"
	"github.com/nageoffer/ragent/goldmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func stripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

func TestMain(m *testing.M) {
	// Force ANSI color output so styled elements produce escape codes.
	lipgloss.SetColorProfile(termenv.ANSI)
	os.Exit(m.Run())
}

func TestRender(t *testing.T) {
	t.Parallel()

	theme := ragent.DefaultTheme()

	t.Run("empty input returns empty string", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "", goldmark.Render("", 80, theme))
	})

	t.Run("plain paragraph", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "hello world", strings.TrimSpace(stripANSI(goldmark.Render("hello world", 80, theme))))
	})

	t.Run("heading is styled differently from paragraph", func(t *testing.T) {
		t.Parallel()
		heading := goldmark.Render("# Title", 80, theme)
		paragraph := goldmark.Render("Title", 80, theme)
		assert.Contains(t, stripANSI(heading), "Title")
		assert.NotEqual(t, heading, paragraph)
	})

	t.Run("emphasis and code spans keep their text", func(t *testing.T) {
		t.Parallel()
		got := stripANSI(goldmark.Render("**bold** *italic* ***both*** `code` ~~gone~~", 80, theme))
		for _, want := range []string{"bold", "italic", "both", "code", "gone"} {
			assert.Contains(t, got, want)
		}
		assert.NotContains(t, got, "~~")
		assert.NotContains(t, got, "`")
	})

	t.Run("fenced code block keeps lines without reflow", func(t *testing.T) {
		t.Parallel()
		got := stripANSI(goldmark.Render("```go\nfmt.Println(\"hello world\")\n```", 20, theme))
		lines := strings.Split(got, "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "go", lines[0])
		assert.Equal(t, `│ fmt.Println("hello world")`, lines[1])
	})

	t.Run("indented code block", func(t *testing.T) {
		t.Parallel()
		got := stripANSI(goldmark.Render("paragraph\n\n    indented code\n    more code", 80, theme))
		assert.Contains(t, got, "│ indented code")
		assert.Contains(t, got, "│ more code")
	})

	t.Run("bullet and ordered lists", func(t *testing.T) {
		t.Parallel()
		got := stripANSI(goldmark.Render("- one\n- two\n\n3. third\n4. fourth", 80, theme))
		assert.Contains(t, got, "• one")
		assert.Contains(t, got, "• two")
		assert.Contains(t, got, "3. third")
		assert.Contains(t, got, "4. fourth")
	})

	t.Run("nested list is indented", func(t *testing.T) {
		t.Parallel()
		got := stripANSI(goldmark.Render("- outer\n  - inner one\n  - inner two", 80, theme))
		assert.Contains(t, got, "• outer")
		assert.Contains(t, got, "  • inner one")
		assert.Contains(t, got, "  • inner two")
	})

	t.Run("list item continuation lines are indented", func(t *testing.T) {
		t.Parallel()
		src := "- this is a very long list item that should wrap and have continuation lines properly indented"
		lines := strings.Split(stripANSI(goldmark.Render(src, 30, theme)), "\n")
		require.Greater(t, len(lines), 1)
		assert.True(t, strings.HasPrefix(lines[0], "• "))
		for _, line := range lines[1:] {
			if strings.TrimSpace(line) != "" {
				assert.True(t, strings.HasPrefix(line, "  "), "continuation line should be indented: %q", line)
			}
		}
	})

	t.Run("links show text and URL", func(t *testing.T) {
		t.Parallel()
		got := stripANSI(goldmark.Render("[docs](https://example.com) and https://bare.example.org", 80, theme))
		assert.Contains(t, got, "docs (https://example.com)")
		assert.Contains(t, got, "https://bare.example.org")
	})

	t.Run("image renders alt text and URL", func(t *testing.T) {
		t.Parallel()
		got := stripANSI(goldmark.Render("![chart](https://example.com/img.png)", 80, theme))
		assert.Contains(t, got, "chart (https://example.com/img.png)")
	})

	t.Run("blockquote is prefixed with a bar", func(t *testing.T) {
		t.Parallel()
		got := stripANSI(goldmark.Render("> quoted source\n> second line", 80, theme))
		assert.Equal(t, "▌ quoted source second line", strings.TrimRight(got, " "))
	})

	t.Run("table columns are aligned", func(t *testing.T) {
		t.Parallel()
		src := "| Name | Score |\n|---|---|\n| ada | 42 |\n| bob | 7 |"
		lines := strings.Split(stripANSI(goldmark.Render(src, 80, theme)), "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, "Name │ Score", lines[0])
		assert.Equal(t, "─────┼──────", lines[1])
		assert.Equal(t, "ada  │ 42", lines[2])
		assert.Equal(t, "bob  │ 7", lines[3])
	})

	t.Run("thematic break", func(t *testing.T) {
		t.Parallel()
		got := stripANSI(goldmark.Render("above\n\n---\n\nbelow", 20, theme))
		assert.Contains(t, got, "above")
		assert.Contains(t, got, strings.Repeat("─", 20))
		assert.Contains(t, got, "below")
	})

	t.Run("paragraph wraps to width", func(t *testing.T) {
		t.Parallel()
		long := "word1 word2 word3 word4 word5 word6 word7 word8 word9 word10 word11 word12"
		got := goldmark.Render(long, 30, theme)
		assert.Contains(t, stripANSI(got), "word12")
		assert.Greater(t, len(strings.Split(got, "\n")), 1)
	})

	t.Run("blocks are separated by blank lines", func(t *testing.T) {
		t.Parallel()
		got := stripANSI(goldmark.Render("first\n\nsecond", 80, theme))
		lines := strings.Split(got, "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "", strings.TrimSpace(lines[1]))
	})

	t.Run("width zero defaults to 80", func(t *testing.T) {
		t.Parallel()
		assert.Contains(t, stripANSI(goldmark.Render("hello world", 0, theme)), "hello world")
	})
}

func TestRenderer_ConcurrentUse(t *testing.T) {
	t.Parallel()
	r := goldmark.New(ragent.DefaultTheme())
	want := r.Render("# Hi\n\n- a\n- b", 40)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, r.Render("# Hi\n\n- a\n- b", 40))
		}()
	}
	wg.Wait()
}
