package cleaner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripStructuralRemovesEmptyAltImages(t *testing.T) {
	out := StripStructural("before ![](https://cdn.example.com/x.png) after")
	assert.Equal(t, "before  after", out)
}

func TestStripStructuralRemovesSkipLinks(t *testing.T) {
	md := "[Skip to content](#main)\n\nActual content paragraph."
	out := StripStructural(md)
	assert.NotContains(t, out, "Skip to content")
	assert.Contains(t, out, "Actual content paragraph.")
}

func TestStripStructuralRemovesBareLinkItems(t *testing.T) {
	md := "* [Home](/home)\n* [About](/about)\n* [Pricing](/pricing) our plans start at $5\n\ntext"
	out := StripStructural(md)
	assert.NotContains(t, out, "Home")
	assert.NotContains(t, out, "About")
	// Link items with trailing description are content.
	assert.Contains(t, out, "plans start at $5")
	assert.Contains(t, out, "text")
}

func TestStripStructuralRemovesLoneImages(t *testing.T) {
	md := "![hero banner](https://cdn.example.com/hero.jpg)\n\nIntro paragraph."
	out := StripStructural(md)
	assert.NotContains(t, out, "hero banner")
	assert.Contains(t, out, "Intro paragraph.")
}

func TestStripStructuralCollapsesNewlines(t *testing.T) {
	out := StripStructural("a\n\n\n\n\nb")
	assert.Equal(t, "a\n\nb", out)
}

func TestStripStructuralPreservesContent(t *testing.T) {
	md := "# Title\n\nA normal paragraph with a [useful link](https://example.com) inline."
	assert.Equal(t, md, StripStructural(md))
}

func TestLinkDensity(t *testing.T) {
	assert.Equal(t, 0.0, LinkDensity(""))
	assert.Equal(t, 0.0, LinkDensity("plain text with no links at all"))
	assert.Equal(t, 1.0, LinkDensity("[all](http://x)"))
	assert.Less(t, LinkDensity("a sentence mentioning [x](http://x) briefly but mostly prose"), 0.4)
}

func TestContentStartSkipsNavBlock(t *testing.T) {
	nav := "[Home](/) [About](/about) [Contact](/contact)"
	content := []string{
		"This is the first real sentence of the article body.",
		"It continues with a second line of meaningful text here.",
		"And a third dense line so the run threshold is satisfied.",
	}
	text := nav + "\n" + nav + "\n" + strings.Join(content, "\n")

	out := ContentStart(text)
	assert.False(t, strings.HasPrefix(out, nav))
	assert.True(t, strings.HasPrefix(out, content[0]))
}

func TestContentStartNoDenseRunReturnsInput(t *testing.T) {
	text := "[a](x)\nshort\n[b](y)"
	assert.Equal(t, text, ContentStart(text))
}

func TestNormalizeBlock(t *testing.T) {
	assert.Equal(t, "accept all cookies", NormalizeBlock("  Accept   ALL\n\tcookies "))
}

func TestBlockHashStableAcrossFormatting(t *testing.T) {
	h1 := BlockHash("Accept all cookies to continue")
	h2 := BlockHash("ACCEPT  ALL\ncookies   to continue")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)

	assert.NotEqual(t, h1, BlockHash("A different block entirely"))
}

func TestSplitBlocks(t *testing.T) {
	text := "tiny\n\n" + strings.Repeat("x", 60) + "\n\n" + strings.Repeat("y", 49)
	blocks := SplitBlocks(text, 50)
	assert.Equal(t, []string{strings.Repeat("x", 60)}, blocks)
}

func TestStripBlocksRemovesFlaggedOnly(t *testing.T) {
	banner := strings.Repeat("This site uses cookies. ", 10)
	footer := strings.Repeat("Copyright ACME Corp. ", 10)
	content := "Unique product description that should stay."

	page := banner + "\n\n" + content + "\n\n" + footer
	boiler := map[string]struct{}{BlockHash(banner): {}}

	out := StripBlocks(page, boiler, 50)
	assert.NotContains(t, out, "cookies")
	assert.Contains(t, out, "Unique product description")
	assert.Contains(t, out, "Copyright ACME")
}

func TestStripBlocksPureBoilerplatePage(t *testing.T) {
	banner := strings.Repeat("This site uses cookies. ", 10)
	boiler := map[string]struct{}{BlockHash(banner): {}}
	assert.Empty(t, StripBlocks(banner, boiler, 50))
}

func TestStripBlocksKeepsShortBlocks(t *testing.T) {
	short := "OK then"
	boiler := map[string]struct{}{BlockHash(short): {}}
	assert.Equal(t, short, StripBlocks(short, boiler, 50))
}
