// Package chunker splits markdown into semantically bounded chunks for
// extraction. Sections are cut on H2+ headers; oversize sections fall back
// to paragraph and then word splits. Token counts are approximated as
// len/4.
package chunker

import (
	"strings"
)

type Config struct {
	// MaxTokens bounds the chunk size (token ~ char/4)
	MaxTokens int
	// OverlapTokens budgets the paragraph-aligned tail of the previous
	// chunk prefixed to the next one
	OverlapTokens int
}

func DefaultConfig() Config {
	return Config{
		MaxTokens:     5000,
		OverlapTokens: 0,
	}
}

// Chunk is one extraction unit of a document.
type Chunk struct {
	Index int
	Total int
	// HeaderPath is the H1->H2->H3 breadcrumb leading into the chunk
	HeaderPath []string
	Text       string
}

// Tokens approximates the token count of s.
func Tokens(s string) int {
	return (len(s) + 3) / 4
}

type section struct {
	headerPath []string
	text       string
}

// Split cuts markdown into ordered chunks. Empty input yields nil.
func Split(markdown string, cfg Config) []Chunk {
	if strings.TrimSpace(markdown) == "" {
		return nil
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 5000
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}

	sections := splitSections(markdown)

	var chunks []Chunk
	for _, sec := range sections {
		for _, text := range splitSection(sec.text, cfg.MaxTokens) {
			chunks = append(chunks, Chunk{
				HeaderPath: sec.headerPath,
				Text:       text,
			})
		}
	}

	if cfg.OverlapTokens > 0 {
		for i := len(chunks) - 1; i > 0; i-- {
			tail := overlapTail(chunks[i-1].Text, cfg.OverlapTokens)
			if tail != "" {
				chunks[i].Text = tail + "\n\n" + chunks[i].Text
			}
		}
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// splitSections cuts on H2 and deeper headers, keeping each header with its
// body and tracking the breadcrumb of headers leading into it.
func splitSections(markdown string) []section {
	lines := strings.Split(markdown, "\n")

	// crumbs[0..2] hold the active H1/H2/H3 titles
	var crumbs [3]string

	var sections []section
	var current []string
	var currentPath []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text != "" {
			sections = append(sections, section{headerPath: currentPath, text: text})
		}
		current = nil
	}

	currentPath = breadcrumb(crumbs)
	for _, line := range lines {
		level, title := headerLine(line)
		if level > 0 && level <= 3 {
			crumbs[level-1] = title
			for i := level; i < 3; i++ {
				crumbs[i] = ""
			}
		}

		if level >= 2 {
			flush()
			currentPath = breadcrumb(crumbs)
		} else if level == 1 && strings.TrimSpace(strings.Join(current, "")) == "" {
			// H1 opening the section counts toward its breadcrumb
			currentPath = breadcrumb(crumbs)
		}
		current = append(current, line)
	}
	flush()

	return sections
}

func breadcrumb(crumbs [3]string) []string {
	var path []string
	for _, c := range crumbs {
		if c != "" {
			path = append(path, c)
		}
	}
	return path
}

// headerLine returns the header level and title, or 0 for non-header lines.
func headerLine(line string) (int, string) {
	trimmed := strings.TrimLeft(line, "#")
	level := len(line) - len(trimmed)
	if level == 0 || level > 6 || !strings.HasPrefix(trimmed, " ") {
		return 0, ""
	}
	return level, strings.TrimSpace(trimmed)
}

// splitSection breaks one section into pieces of at most maxTokens,
// falling back from paragraphs to words.
func splitSection(text string, maxTokens int) []string {
	if Tokens(text) <= maxTokens {
		return []string{text}
	}

	var pieces []string
	var current strings.Builder

	flush := func() {
		piece := strings.TrimSpace(current.String())
		if piece != "" {
			pieces = append(pieces, piece)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}

		if Tokens(para) > maxTokens {
			flush()
			pieces = append(pieces, splitWords(para, maxTokens)...)
			continue
		}

		if current.Len() > 0 && Tokens(current.String())+Tokens(para) > maxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return pieces
}

func splitWords(text string, maxTokens int) []string {
	words := strings.Fields(text)

	var pieces []string
	var current strings.Builder
	for _, word := range words {
		if current.Len() > 0 && Tokens(current.String())+Tokens(word)+1 > maxTokens {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// overlapTail returns the trailing paragraphs of text fitting the token
// budget, or "" when even the last paragraph is too large.
func overlapTail(text string, budget int) string {
	paras := strings.Split(text, "\n\n")

	var tail []string
	total := 0
	for i := len(paras) - 1; i >= 0; i-- {
		t := Tokens(paras[i])
		if total+t > budget {
			break
		}
		tail = append([]string{paras[i]}, tail...)
		total += t
	}
	return strings.TrimSpace(strings.Join(tail, "\n\n"))
}
