package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyInput(t *testing.T) {
	assert.Nil(t, Split("", DefaultConfig()))
	assert.Nil(t, Split("   \n\n  ", DefaultConfig()))
}

func TestSplitSingleShortSection(t *testing.T) {
	chunks := Split("# Title\n\nSome short content here.", DefaultConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[0].Total)
	assert.Equal(t, []string{"Title"}, chunks[0].HeaderPath)
	assert.Contains(t, chunks[0].Text, "Some short content")
}

func TestSplitOnH2Headers(t *testing.T) {
	md := "# Doc\n\nintro text\n\n## First\n\nbody one\n\n## Second\n\nbody two"
	chunks := Split(md, DefaultConfig())
	require.Len(t, chunks, 3)

	assert.Contains(t, chunks[0].Text, "intro text")
	assert.Equal(t, []string{"Doc"}, chunks[0].HeaderPath)

	assert.True(t, strings.HasPrefix(chunks[1].Text, "## First"))
	assert.Equal(t, []string{"Doc", "First"}, chunks[1].HeaderPath)

	assert.True(t, strings.HasPrefix(chunks[2].Text, "## Second"))
	assert.Equal(t, []string{"Doc", "Second"}, chunks[2].HeaderPath)
}

func TestHeaderPathIncludesH3(t *testing.T) {
	md := "# A\n\n## B\n\nx\n\n### C\n\ny"
	chunks := Split(md, DefaultConfig())
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"A", "B"}, chunks[0].HeaderPath)
	assert.Equal(t, []string{"A", "B", "C"}, chunks[1].HeaderPath)
}

func TestHeaderPathResetsOnSibling(t *testing.T) {
	md := "# A\n\n## B\n\nx\n\n### C\n\ny\n\n## D\n\nz"
	chunks := Split(md, DefaultConfig())
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"A", "D"}, chunks[2].HeaderPath)
}

func TestOversizeSectionSplitsByParagraph(t *testing.T) {
	para := strings.Repeat("word ", 100) // ~125 tokens
	md := "## Big\n\n" + para + "\n\n" + para + "\n\n" + para

	chunks := Split(md, Config{MaxTokens: 150})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, Tokens(c.Text), 160)
		assert.Equal(t, []string{"Big"}, c.HeaderPath)
	}
}

func TestOversizeParagraphSplitsByWords(t *testing.T) {
	para := strings.Repeat("word ", 400) // ~500 tokens, single paragraph
	chunks := Split("## Huge\n\n"+para, Config{MaxTokens: 100})
	require.Greater(t, len(chunks), 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, Tokens(c.Text), 110)
	}
}

func TestNoOverlapByDefault(t *testing.T) {
	para1 := strings.Repeat("alpha ", 50)
	para2 := strings.Repeat("beta ", 50)
	md := "## S\n\n" + para1 + "\n\n" + para2

	chunks := Split(md, Config{MaxTokens: 80})
	require.Len(t, chunks, 2)
	assert.NotContains(t, chunks[1].Text, "alpha")
}

func TestOverlapPrefixesPreviousTail(t *testing.T) {
	para1 := strings.TrimSpace(strings.Repeat("alpha ", 30))
	para2 := strings.TrimSpace(strings.Repeat("beta ", 30))
	md := "## S\n\n" + para1 + "\n\n" + para2

	chunks := Split(md, Config{MaxTokens: 60, OverlapTokens: 50})
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Text, "alpha")
	assert.Contains(t, chunks[1].Text, "alpha") // overlap tail carried over
	assert.Contains(t, chunks[1].Text, "beta")
	assert.NotContains(t, chunks[0].Text, "beta")
}

func TestIndexAndTotalAssigned(t *testing.T) {
	md := "## A\n\nx\n\n## B\n\ny\n\n## C\n\nz"
	chunks := Split(md, DefaultConfig())
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, 3, c.Total)
	}
}

func TestTokens(t *testing.T) {
	assert.Equal(t, 0, Tokens(""))
	assert.Equal(t, 1, Tokens("abc"))
	assert.Equal(t, 1, Tokens("abcd"))
	assert.Equal(t, 2, Tokens("abcde"))
}
