package scrape

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/domain/jobs"
	"github.com/factweave/factweave/domain/projects"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/firecrawl"
	"github.com/factweave/factweave/pkg/ratelimit"
	"github.com/factweave/factweave/pkg/retry"
)

type fakeFetcher struct {
	crawlErrs []error
	pages     []*firecrawl.ScrapeResult
	crawls    int
}

func (f *fakeFetcher) Scrape(context.Context, string) (*firecrawl.ScrapeResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeFetcher) Crawl(_ context.Context, _ string, _ firecrawl.CrawlOptions) ([]*firecrawl.ScrapeResult, error) {
	i := f.crawls
	f.crawls++
	if i < len(f.crawlErrs) && f.crawlErrs[i] != nil {
		return nil, f.crawlErrs[i]
	}
	return f.pages, nil
}

type fakeRefresher struct {
	calls [][2]string
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, projectID, domain string) error {
	f.calls = append(f.calls, [2]string{projectID, domain})
	return f.err
}

func newCrawlService(t *testing.T, fetcher firecrawl.Fetcher, limitCfg ratelimit.Config) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &Service{
		fetcher: fetcher,
		limiter: ratelimit.New(rdb, limitCfg, slog.Default()),
		retryPol: retry.Policy{
			MaxRetries:      2,
			BaseDelay:       time.Millisecond,
			MaxDelay:        2 * time.Millisecond,
			ExponentialBase: 2.0,
		},
		log: slog.Default(),
	}
}

func TestCrawlPagesRetriesTransientFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		crawlErrs: []error{apperror.ErrFetchTransient.WithMessage("upstream 502")},
		pages: []*firecrawl.ScrapeResult{
			{Success: true, URL: "https://acme.com/products", Domain: "acme.com"},
		},
	}
	svc := newCrawlService(t, fetcher, ratelimit.Config{DailyLimit: 5})

	pages, err := svc.crawlPages(context.Background(), "https://acme.com", firecrawl.CrawlOptions{})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 2, fetcher.crawls)
}

func TestCrawlPagesCountsAgainstDailyQuota(t *testing.T) {
	fetcher := &fakeFetcher{pages: []*firecrawl.ScrapeResult{{Success: true, Domain: "acme.com"}}}
	svc := newCrawlService(t, fetcher, ratelimit.Config{DailyLimit: 1})

	_, err := svc.crawlPages(context.Background(), "https://acme.com", firecrawl.CrawlOptions{})
	require.NoError(t, err)

	_, err = svc.crawlPages(context.Background(), "https://acme.com", firecrawl.CrawlOptions{})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeRateLimitExceeded, apperror.CodeOf(err))
	assert.Equal(t, 1, fetcher.crawls, "quota exhaustion blocks before the fetcher")
}

func TestFinishRefreshesBoilerplatePerDomain(t *testing.T) {
	refresher := &fakeRefresher{}
	svc := &Service{boilerplate: refresher, log: slog.Default()}

	tally := &counters{Scraped: 3, SourceIDs: []string{"s1", "s2", "s3"}}
	tally.sawDomain("acme.com")
	tally.sawDomain("acme.com")
	tally.sawDomain("beta.example")

	job := &jobs.Job{ID: "j1", Payload: map[string]any{}}
	project := &projects.Project{ID: "p1"}

	result, err := svc.finish(context.Background(), job, project, tally, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, result["scraped"])

	require.Len(t, refresher.calls, 2, "one refresh per distinct domain")
	seen := map[string]bool{}
	for _, call := range refresher.calls {
		assert.Equal(t, "p1", call[0])
		seen[call[1]] = true
	}
	assert.True(t, seen["acme.com"])
	assert.True(t, seen["beta.example"])
}

func TestFinishBoilerplateFailureDoesNotFailJob(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("analysis query failed")}
	svc := &Service{boilerplate: refresher, log: slog.Default()}

	tally := &counters{Scraped: 1, SourceIDs: []string{"s1"}}
	tally.sawDomain("acme.com")

	result, err := svc.finish(context.Background(), &jobs.Job{ID: "j1", Payload: map[string]any{}}, &projects.Project{ID: "p1"}, tally, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result["scraped"])
	assert.Len(t, refresher.calls, 1)
}
