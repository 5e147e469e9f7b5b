// Package cleaner strips non-content markup from scraped markdown.
//
// Layer 1 removes universal structural junk and is safe to apply before
// extraction. Layer 2 finds the content start by link-density scanning and
// is applied only before classification and embedding, never to extraction
// input. Block hashing supports the per-domain boilerplate detector.
package cleaner

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	emptyAltImageRe = regexp.MustCompile(`!\[\]\([^)]*\)`)
	skipLinkRe      = regexp.MustCompile(`(?i)^\s*\[skip to (content|main|navigation)[^\]]*\]\([^)]*\)\s*$`)
	bareLinkItemRe  = regexp.MustCompile(`^\s*[*+-]\s*\[[^\]]*\]\([^)]*\)\s*$`)
	loneImageRe     = regexp.MustCompile(`^\s*!\[[^\]]*\]\([^)]*\)\s*$`)
	multiNewlineRe  = regexp.MustCompile(`\n{3,}`)
	markdownLinkRe  = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// StripStructural applies the layer-1 strip: markup that is never content.
func StripStructural(markdown string) string {
	lines := strings.Split(markdown, "\n")

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if skipLinkRe.MatchString(line) || bareLinkItemRe.MatchString(line) || loneImageRe.MatchString(line) {
			continue
		}
		line = emptyAltImageRe.ReplaceAllString(line, "")
		kept = append(kept, line)
	}

	out := strings.Join(kept, "\n")
	out = multiNewlineRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

const (
	densityThreshold = 0.4
	minContentLine   = 20
	contentRunLen    = 3
)

// LinkDensity returns the fraction of the line occupied by markdown links.
func LinkDensity(line string) float64 {
	total := len(line)
	if total == 0 {
		return 0
	}
	linkChars := 0
	for _, m := range markdownLinkRe.FindAllString(line, -1) {
		linkChars += len(m)
	}
	return float64(linkChars) / float64(total)
}

// ContentStart applies the layer-2 strip: it scans from the top for the
// first run of contentRunLen dense content lines and returns the text from
// that offset. When no such run exists the input is returned unchanged.
func ContentStart(text string) string {
	lines := strings.Split(text, "\n")

	run := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) < minContentLine || LinkDensity(trimmed) >= densityThreshold {
			run = 0
			continue
		}
		run++
		if run == contentRunLen {
			return strings.Join(lines[i-contentRunLen+1:], "\n")
		}
	}
	return text
}

// NormalizeBlock canonicalizes a block for hashing: lower-cased with all
// whitespace runs collapsed to single spaces.
func NormalizeBlock(block string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(block)), " ")
}

// BlockHash returns a stable short digest of the normalized block.
func BlockHash(block string) string {
	sum := sha256.Sum256([]byte(NormalizeBlock(block)))
	return hex.EncodeToString(sum[:8])
}

// SplitBlocks cuts text on blank lines and keeps blocks of at least
// minChars characters.
func SplitBlocks(text string, minChars int) []string {
	var blocks []string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if len(block) >= minChars {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// StripBlocks removes every block whose hash is in the boilerplate set.
// Blocks shorter than minChars are never stripped.
func StripBlocks(text string, boilerplate map[string]struct{}, minChars int) string {
	var kept []string
	for _, block := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if len(trimmed) >= minChars {
			if _, ok := boilerplate[BlockHash(trimmed)]; ok {
				continue
			}
		}
		kept = append(kept, block)
	}
	out := strings.Join(kept, "\n\n")
	out = multiNewlineRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
