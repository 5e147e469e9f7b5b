// Package firecrawl is a client for the Firecrawl-style scraping backend.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

var Module = fx.Module("firecrawl",
	fx.Provide(
		NewClient,
		fx.Annotate(
			func(c *Client) Fetcher { return c },
			fx.As(new(Fetcher)),
		),
	),
)

// ScrapeResult is one fetched page.
type ScrapeResult struct {
	Success    bool
	URL        string
	Domain     string
	Markdown   string
	Title      string
	HTTPStatus int
	Metadata   map[string]any
}

// CrawlOptions bound a crawl expansion.
type CrawlOptions struct {
	MaxDepth           int
	Limit              int
	IncludePaths       []string
	ExcludePaths       []string
	AllowBackwardLinks bool
}

// Fetcher is the scraping backend interface.
type Fetcher interface {
	Scrape(ctx context.Context, pageURL string) (*ScrapeResult, error)
	Crawl(ctx context.Context, startURL string, opts CrawlOptions) ([]*ScrapeResult, error)
}

// Client talks to a Firecrawl-compatible HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger

	// pollInterval paces crawl status polling
	pollInterval time.Duration
}

// NewClient creates the fetcher client from config.
func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.Firecrawl.URL, "/"),
		apiKey:       cfg.Firecrawl.APIKey,
		http:         &http.Client{Timeout: cfg.Scrape.Timeout},
		log:          log.With(logger.Scope("firecrawl")),
		pollInterval: 2 * time.Second,
	}
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type pageData struct {
	Markdown string         `json:"markdown"`
	Metadata map[string]any `json:"metadata"`
}

type scrapeResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Data    pageData `json:"data"`
}

// Scrape fetches a single page as markdown.
func (c *Client) Scrape(ctx context.Context, pageURL string) (*ScrapeResult, error) {
	body, err := c.post(ctx, "/v1/scrape", scrapeRequest{
		URL:     pageURL,
		Formats: []string{"markdown"},
	})
	if err != nil {
		return nil, err
	}

	var resp scrapeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperror.ErrFetchTransient.WithMessage("scrape response parse failed").WithInternal(err)
	}
	if !resp.Success {
		return nil, apperror.ErrFetchHard.WithMessage(resp.Error)
	}

	return resultFromPage(pageURL, resp.Data), nil
}

type crawlRequest struct {
	URL                string   `json:"url"`
	MaxDepth           int      `json:"maxDepth,omitempty"`
	Limit              int      `json:"limit,omitempty"`
	IncludePaths       []string `json:"includePaths,omitempty"`
	ExcludePaths       []string `json:"excludePaths,omitempty"`
	AllowBackwardLinks bool     `json:"allowBackwardLinks,omitempty"`
	ScrapeOptions      struct {
		Formats []string `json:"formats"`
	} `json:"scrapeOptions"`
}

type crawlStartResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	ID      string `json:"id"`
}

type crawlStatusResponse struct {
	Status string     `json:"status"`
	Error  string     `json:"error"`
	Data   []pageData `json:"data"`
}

// Crawl starts a crawl and polls until it completes.
func (c *Client) Crawl(ctx context.Context, startURL string, opts CrawlOptions) ([]*ScrapeResult, error) {
	req := crawlRequest{
		URL:                startURL,
		MaxDepth:           opts.MaxDepth,
		Limit:              opts.Limit,
		IncludePaths:       opts.IncludePaths,
		ExcludePaths:       opts.ExcludePaths,
		AllowBackwardLinks: opts.AllowBackwardLinks,
	}
	req.ScrapeOptions.Formats = []string{"markdown"}

	body, err := c.post(ctx, "/v1/crawl", req)
	if err != nil {
		return nil, err
	}

	var start crawlStartResponse
	if err := json.Unmarshal(body, &start); err != nil {
		return nil, apperror.ErrFetchTransient.WithMessage("crawl response parse failed").WithInternal(err)
	}
	if !start.Success || start.ID == "" {
		return nil, apperror.ErrFetchHard.WithMessage(start.Error)
	}

	return c.waitForCrawl(ctx, startURL, start.ID)
}

func (c *Client) waitForCrawl(ctx context.Context, startURL, crawlID string) ([]*ScrapeResult, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		body, err := c.get(ctx, "/v1/crawl/"+crawlID)
		if err != nil {
			return nil, err
		}

		var status crawlStatusResponse
		if err := json.Unmarshal(body, &status); err != nil {
			return nil, apperror.ErrFetchTransient.WithMessage("crawl status parse failed").WithInternal(err)
		}

		switch status.Status {
		case "completed":
			results := make([]*ScrapeResult, 0, len(status.Data))
			for _, page := range status.Data {
				results = append(results, resultFromPage("", page))
			}
			c.log.Info("crawl completed",
				slog.String("url", startURL),
				slog.Int("pages", len(results)),
			)
			return results, nil
		case "failed":
			return nil, apperror.ErrFetchHard.WithMessage(status.Error)
		default:
			// scraping / waiting, keep polling
		}
	}
}

func resultFromPage(requestURL string, page pageData) *ScrapeResult {
	meta := page.Metadata
	if meta == nil {
		meta = map[string]any{}
	}

	pageURL := metaString(meta, "sourceURL")
	if pageURL == "" {
		pageURL = requestURL
	}

	status := 0
	if v, ok := meta["statusCode"].(float64); ok {
		status = int(v)
	}

	return &ScrapeResult{
		Success:    status < 400,
		URL:        pageURL,
		Domain:     ExtractDomain(pageURL),
		Markdown:   page.Markdown,
		Title:      metaString(meta, "title"),
		HTTPStatus: status,
		Metadata:   meta,
	}
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// ExtractDomain parses the host out of a URL.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.ErrFetchTransient.WithMessage("fetcher request failed").WithInternal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.ErrFetchTransient.WithMessage("fetcher response read failed").WithInternal(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperror.ErrFetchTransient.WithMessage(
			fmt.Sprintf("fetcher returned status %d", resp.StatusCode))
	default:
		return nil, apperror.ErrFetchHard.WithMessage(
			fmt.Sprintf("fetcher returned status %d", resp.StatusCode))
	}
}
