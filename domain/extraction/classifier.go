package extraction

import (
	"sort"
	"strings"

	"github.com/factweave/factweave/domain/projects"
	"github.com/factweave/factweave/pkg/cleaner"
)

// Classification is the classifier verdict for one page.
type Classification struct {
	SkipExtraction bool     `json:"skip_extraction"`
	FieldGroups    []string `json:"field_groups"`
	Method         string   `json:"method"`
	Confidence     float64  `json:"confidence"`
}

// Classifier decides which field groups apply to a page. Rule-based and
// deterministic; an LLM-assisted branch could sit behind the same method.
type Classifier struct {
	cfg projects.ClassificationConfig
}

// NewClassifier creates a classifier for one project's config. A nil config
// classifies everything as "none" (all groups extracted).
func NewClassifier(cfg *projects.ClassificationConfig) *Classifier {
	if cfg == nil {
		return &Classifier{}
	}
	return &Classifier{cfg: *cfg}
}

// contentScanChars bounds how much of the content start the keyword
// fallback reads.
const contentScanChars = 600

// Classify matches the URL against skip patterns first, then collects field
// groups whose URL patterns or title keywords match. When neither matches,
// the title keywords are retried against the start of the page content, with
// navigation noise trimmed off first. An empty group set means the pipeline
// extracts all groups.
func (c *Classifier) Classify(pageURL, title, content string) Classification {
	lowerURL := strings.ToLower(pageURL)
	lowerTitle := strings.ToLower(title)

	for _, pattern := range c.cfg.SkipPatterns {
		if pattern != "" && strings.Contains(lowerURL, strings.ToLower(pattern)) {
			return Classification{
				SkipExtraction: true,
				Method:         "skip_pattern",
				Confidence:     0.9,
			}
		}
	}

	urlMatched := map[string]bool{}
	titleMatched := map[string]bool{}
	for group, rule := range c.cfg.GroupRules {
		for _, pattern := range rule.URLPatterns {
			if pattern != "" && strings.Contains(lowerURL, strings.ToLower(pattern)) {
				urlMatched[group] = true
				break
			}
		}
		if urlMatched[group] {
			continue
		}
		for _, kw := range rule.TitleKeywords {
			if kw != "" && strings.Contains(lowerTitle, strings.ToLower(kw)) {
				titleMatched[group] = true
				break
			}
		}
	}

	groups := make([]string, 0, len(urlMatched)+len(titleMatched))
	for g := range urlMatched {
		groups = append(groups, g)
	}
	for g := range titleMatched {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	switch {
	case len(urlMatched) > 0:
		return Classification{FieldGroups: groups, Method: "url_pattern", Confidence: 0.8}
	case len(titleMatched) > 0:
		return Classification{FieldGroups: groups, Method: "title_keyword", Confidence: 0.7}
	}

	if groups := c.matchContent(content); len(groups) > 0 {
		return Classification{FieldGroups: groups, Method: "content_keyword", Confidence: 0.6}
	}
	return Classification{FieldGroups: nil, Method: "none", Confidence: 0.3}
}

// matchContent retries the title keywords against the start of the page
// body. The link-density trim drops nav menus so their link text cannot
// produce false matches.
func (c *Classifier) matchContent(content string) []string {
	if content == "" {
		return nil
	}
	body := cleaner.ContentStart(content)
	if len(body) > contentScanChars {
		body = body[:contentScanChars]
	}
	body = strings.ToLower(body)

	var groups []string
	for group, rule := range c.cfg.GroupRules {
		for _, kw := range rule.TitleKeywords {
			if kw != "" && strings.Contains(body, strings.ToLower(kw)) {
				groups = append(groups, group)
				break
			}
		}
	}
	sort.Strings(groups)
	return groups
}
