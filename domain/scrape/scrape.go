// Package scrape runs scrape and crawl jobs: fetch pages through the
// external fetcher under per-domain rate limits, classify and store them as
// sources.
package scrape

import (
	"context"
	"log/slog"

	"github.com/factweave/factweave/domain/extraction"
	"github.com/factweave/factweave/domain/jobs"
	"github.com/factweave/factweave/domain/projects"
	"github.com/factweave/factweave/domain/sources"
	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/cleaner"
	"github.com/factweave/factweave/pkg/firecrawl"
	"github.com/factweave/factweave/pkg/logger"
	"github.com/factweave/factweave/pkg/ratelimit"
	"github.com/factweave/factweave/pkg/retry"
)

// boilerplateRefresher reanalyzes a domain's repeated blocks after it gains
// pages. Satisfied by extraction.BoilerplateService.
type boilerplateRefresher interface {
	Refresh(ctx context.Context, projectID, domain string) error
}

// Service fetches and stores pages for scrape and crawl jobs.
type Service struct {
	sources     *sources.Store
	projects    *projects.Store
	jobs        *jobs.Store
	fetcher     firecrawl.Fetcher
	limiter     *ratelimit.Limiter
	boilerplate boilerplateRefresher
	cfg         config.ScrapeConfig
	retryPol    retry.Policy
	// crawlSem bounds parallel crawl expansions across workers in this
	// process
	crawlSem chan struct{}
	log      *slog.Logger
}

// NewService creates the scrape service.
func NewService(
	src *sources.Store,
	proj *projects.Store,
	jobStore *jobs.Store,
	fetcher firecrawl.Fetcher,
	limiter *ratelimit.Limiter,
	boiler *extraction.BoilerplateService,
	cfg *config.Config,
	log *slog.Logger,
) *Service {
	maxCrawls := cfg.Scrape.MaxConcurrentCrawls
	if maxCrawls < 1 {
		maxCrawls = 1
	}
	return &Service{
		sources:     src,
		projects:    proj,
		jobs:        jobStore,
		fetcher:     fetcher,
		limiter:     limiter,
		boilerplate: boiler,
		cfg:         cfg.Scrape,
		retryPol: retry.Policy{
			MaxRetries:      cfg.Scrape.RetryMaxAttempts,
			BaseDelay:       cfg.Scrape.RetryBaseDelay,
			MaxDelay:        cfg.Scrape.RetryMaxDelay,
			ExponentialBase: 2.0,
			Jitter:          true,
		},
		crawlSem: make(chan struct{}, maxCrawls),
		log:      log.With(logger.Scope("scrape")),
	}
}

// counters accumulate the per-job result.
type counters struct {
	Scraped     int      `json:"scraped"`
	Failed      int      `json:"failed"`
	RateLimited int      `json:"rate_limited"`
	SourceIDs   []string `json:"source_ids,omitempty"`

	// domains seen during the job, for the post-job boilerplate refresh
	domains map[string]bool
}

func (c *counters) sawDomain(domain string) {
	if domain == "" {
		return
	}
	if c.domains == nil {
		c.domains = map[string]bool{}
	}
	c.domains[domain] = true
}

func (c counters) toResult() map[string]any {
	result := map[string]any{
		"scraped":      c.Scraped,
		"failed":       c.Failed,
		"rate_limited": c.RateLimited,
	}
	if len(c.SourceIDs) > 0 {
		result["source_ids"] = c.SourceIDs
	}
	return result
}

// ScrapeHandler processes scrape jobs. Payload: {"project_id", "urls",
// "source_group", "auto_extract"}.
func (s *Service) ScrapeHandler() jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) (map[string]any, error) {
		project, urls, err := s.loadJobInputs(ctx, job)
		if err != nil {
			return nil, err
		}

		var tally counters
		classifier := extraction.NewClassifier(project.ClassificationConfig)
		sourceGroup, _ := job.Payload["source_group"].(string)

		for _, pageURL := range urls {
			cancelled, err := s.jobs.IsCancellationRequested(ctx, job.ID)
			if err != nil {
				return tally.toResult(), err
			}
			if cancelled {
				return tally.toResult(), jobs.ErrCancelled
			}

			s.fetchAndStore(ctx, job, project, classifier, sourceGroup, pageURL, &tally)
		}

		return s.finish(ctx, job, project, &tally, len(urls))
	}
}

// CrawlHandler processes crawl jobs. Payload: {"project_id", "url",
// "source_group", "auto_extract"}. The crawl expansion runs under the
// process-wide crawl semaphore.
func (s *Service) CrawlHandler() jobs.Handler {
	return func(ctx context.Context, job *jobs.Job) (map[string]any, error) {
		project, _, err := s.loadJobInputs(ctx, job)
		if err != nil {
			return nil, err
		}
		startURL, _ := job.Payload["url"].(string)
		if startURL == "" {
			return nil, apperror.ErrValidation.WithMessage("crawl job has no url")
		}

		select {
		case s.crawlSem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-s.crawlSem }()

		opts := firecrawl.CrawlOptions{}
		if cc := project.CrawlConfig; cc != nil {
			opts = firecrawl.CrawlOptions{
				MaxDepth:           cc.MaxDepth,
				Limit:              cc.Limit,
				IncludePaths:       cc.IncludePaths,
				ExcludePaths:       cc.ExcludePaths,
				AllowBackwardLinks: cc.AllowBackwardLinks,
			}
		}

		pages, err := s.crawlPages(ctx, startURL, opts)
		if err != nil {
			return nil, err
		}

		var tally counters
		classifier := extraction.NewClassifier(project.ClassificationConfig)
		sourceGroup, _ := job.Payload["source_group"].(string)

		for _, page := range pages {
			cancelled, err := s.jobs.IsCancellationRequested(ctx, job.ID)
			if err != nil {
				return tally.toResult(), err
			}
			if cancelled {
				return tally.toResult(), jobs.ErrCancelled
			}

			s.storePage(ctx, job, project, classifier, sourceGroup, page, &tally)
		}

		return s.finish(ctx, job, project, &tally, len(pages))
	}
}

// crawlPages expands the start URL through the fetcher. The expansion is
// fetcher traffic like any scrape: the start domain's quota and spacing
// apply, and transient failures retry.
func (s *Service) crawlPages(ctx context.Context, startURL string, opts firecrawl.CrawlOptions) ([]*firecrawl.ScrapeResult, error) {
	if err := s.limiter.Acquire(ctx, firecrawl.ExtractDomain(startURL)); err != nil {
		return nil, err
	}

	var pages []*firecrawl.ScrapeResult
	err := retry.Do(ctx, s.retryPol, func(ctx context.Context) error {
		var crawlErr error
		pages, crawlErr = s.fetcher.Crawl(ctx, startURL, opts)
		return crawlErr
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

func (s *Service) loadJobInputs(ctx context.Context, job *jobs.Job) (*projects.Project, []string, error) {
	projectID, _ := job.Payload["project_id"].(string)
	if projectID == "" {
		projectID = job.ProjectID
	}
	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return project, payloadStrings(job.Payload["urls"]), nil
}

// fetchAndStore runs the per-URL path: rate limit, fetch with retry, store.
func (s *Service) fetchAndStore(
	ctx context.Context,
	job *jobs.Job,
	project *projects.Project,
	classifier *extraction.Classifier,
	sourceGroup, pageURL string,
	tally *counters,
) {
	domain := firecrawl.ExtractDomain(pageURL)

	if err := s.limiter.Acquire(ctx, domain); err != nil {
		if apperror.CodeOf(err) == apperror.CodeRateLimitExceeded {
			tally.RateLimited++
			s.log.Warn("daily rate limit hit",
				slog.String("domain", domain),
				slog.String("url", pageURL),
			)
			return
		}
		tally.Failed++
		s.log.Warn("rate limit acquire failed", slog.String("url", pageURL), logger.Error(err))
		return
	}

	var page *firecrawl.ScrapeResult
	err := retry.Do(ctx, s.retryPol, func(ctx context.Context) error {
		var fetchErr error
		page, fetchErr = s.fetcher.Scrape(ctx, pageURL)
		return fetchErr
	})
	if err != nil {
		tally.Failed++
		s.log.Warn("fetch failed", slog.String("url", pageURL), logger.Error(err))
		return
	}

	s.storePage(ctx, job, project, classifier, sourceGroup, page, tally)
}

// storePage classifies and upserts one fetched page. Error pages are
// logged and counted, never stored.
func (s *Service) storePage(
	ctx context.Context,
	job *jobs.Job,
	project *projects.Project,
	classifier *extraction.Classifier,
	sourceGroup string,
	page *firecrawl.ScrapeResult,
	tally *counters,
) {
	if !page.Success {
		tally.Failed++
		s.log.Info("skipping error page",
			slog.String("url", page.URL),
			slog.Int("http_status", page.HTTPStatus),
		)
		return
	}

	verdict := classifier.Classify(page.URL, page.Title, page.Markdown)
	pageType := ""
	if verdict.SkipExtraction {
		pageType = "skip"
	}
	if sourceGroup == "" {
		sourceGroup = page.Domain
	}

	src := &sources.Source{
		ProjectID:                project.ID,
		URI:                      page.URL,
		SourceGroup:              sourceGroup,
		SourceType:               "web",
		Title:                    page.Title,
		Content:                  page.Markdown,
		CleanedContent:           cleaner.StripStructural(page.Markdown),
		Status:                   sources.StatusCompleted,
		CreatedByJobID:           &job.ID,
		PageType:                 pageType,
		RelevantFieldGroups:      verdict.FieldGroups,
		ClassificationMethod:     verdict.Method,
		ClassificationConfidence: verdict.Confidence,
		MetaData: map[string]any{
			"http_status": page.HTTPStatus,
			"domain":      page.Domain,
		},
	}
	if err := s.sources.Upsert(ctx, src); err != nil {
		tally.Failed++
		s.log.Warn("store source failed", slog.String("url", page.URL), logger.Error(err))
		return
	}

	tally.Scraped++
	tally.SourceIDs = append(tally.SourceIDs, src.ID)
	tally.sawDomain(page.Domain)
}

// finish writes the job result, fails all-failed jobs and chains the
// auto-extract job.
func (s *Service) finish(ctx context.Context, job *jobs.Job, project *projects.Project, tally *counters, total int) (map[string]any, error) {
	result := tally.toResult()

	if total > 0 && tally.Scraped == 0 {
		return result, apperror.ErrFetchHard.WithMessage("all urls failed").
			WithDetails(map[string]any{"failed": tally.Failed, "rate_limited": tally.RateLimited})
	}

	// Reanalyze repeated blocks for every domain that gained pages. Best
	// effort: a failed refresh never fails the job.
	for domain := range tally.domains {
		if err := s.boilerplate.Refresh(ctx, project.ID, domain); err != nil {
			s.log.Warn("boilerplate refresh failed",
				slog.String("domain", domain),
				logger.Error(err),
			)
		}
	}

	if autoExtract, _ := job.Payload["auto_extract"].(bool); autoExtract && len(tally.SourceIDs) > 0 {
		extractJob := &jobs.Job{
			ProjectID: project.ID,
			Type:      jobs.TypeExtract,
			Payload: map[string]any{
				"project_id": project.ID,
				"source_ids": tally.SourceIDs,
			},
		}
		if err := s.jobs.Create(ctx, extractJob); err != nil {
			return result, err
		}
		result["extract_job_id"] = extractJob.ID
	}

	return result, nil
}

func payloadStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
