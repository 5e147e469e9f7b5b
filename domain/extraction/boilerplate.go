package extraction

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/factweave/factweave/domain/sources"
	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/cleaner"
	"github.com/factweave/factweave/pkg/logger"
)

// DomainBoilerplate stores the flagged block hashes for one (project, domain).
type DomainBoilerplate struct {
	bun.BaseModel `bun:"table:domain_boilerplate,alias:db"`

	ID           string   `bun:"id,pk" json:"id"`
	ProjectID    string   `bun:"project_id" json:"project_id"`
	Domain       string   `bun:"domain" json:"domain"`
	BlockHashes  []string `bun:"block_hashes,type:jsonb" json:"block_hashes"`
	PagesSampled int      `bun:"pages_sampled" json:"pages_sampled"`
	ThresholdPct float64  `bun:"threshold_pct" json:"threshold_pct"`

	CreatedAt time.Time `bun:"created_at,nullzero,default:now()" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
}

// BoilerplateService detects blocks repeated across a domain's pages and
// strips them from cleaned_content.
type BoilerplateService struct {
	db      bun.IDB
	sources *sources.Store
	cfg     config.CleanerConfig
	log     *slog.Logger
}

// NewBoilerplateService creates the service.
func NewBoilerplateService(db *bun.DB, src *sources.Store, cfg *config.Config, log *slog.Logger) *BoilerplateService {
	return &BoilerplateService{
		db:      db,
		sources: src,
		cfg:     cfg.Cleaner,
		log:     log.With(logger.Scope("boilerplate")),
	}
}

// Analyze recomputes the boilerplate hash set for one (project, domain) from
// its completed sources and persists it. Domains with fewer than min_pages
// pages are skipped (nil record, no error): repetition is not meaningful on
// a few pages.
func (s *BoilerplateService) Analyze(ctx context.Context, projectID, domain string) (*DomainBoilerplate, error) {
	pages, err := s.sources.ListByDomain(ctx, projectID, domain)
	if err != nil {
		return nil, err
	}
	if len(pages) < s.cfg.MinPages {
		s.log.Debug("too few pages for boilerplate analysis",
			slog.String("domain", domain),
			slog.Int("pages", len(pages)),
		)
		return nil, nil
	}

	contents := make([]string, len(pages))
	for i, page := range pages {
		contents[i] = page.Content
	}
	hashes := flagRepeatedBlocks(contents, s.cfg.MinBlockChars, s.cfg.BoilerplateThresholdPct)

	record := &DomainBoilerplate{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Domain:       domain,
		BlockHashes:  hashes,
		PagesSampled: len(pages),
		ThresholdPct: s.cfg.BoilerplateThresholdPct,
	}
	_, err = s.db.NewInsert().
		Model(record).
		On("CONFLICT (project_id, domain) DO UPDATE").
		Set("block_hashes = EXCLUDED.block_hashes").
		Set("pages_sampled = EXCLUDED.pages_sampled").
		Set("threshold_pct = EXCLUDED.threshold_pct").
		Set("updated_at = now()").
		Exec(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("persist boilerplate failed").WithInternal(err)
	}

	s.log.Info("boilerplate analyzed",
		slog.String("project_id", projectID),
		slog.String("domain", domain),
		slog.Int("pages", len(pages)),
		slog.Int("blocks_flagged", len(hashes)),
	)
	return record, nil
}

// flagRepeatedBlocks returns the hashes of blocks appearing on at least
// thresholdPct of the pages. A block repeated within one page counts once
// for that page.
func flagRepeatedBlocks(contents []string, minBlockChars int, thresholdPct float64) []string {
	pageCounts := map[string]int{}
	for _, content := range contents {
		seen := map[string]bool{}
		for _, block := range cleaner.SplitBlocks(content, minBlockChars) {
			hash := cleaner.BlockHash(block)
			if !seen[hash] {
				seen[hash] = true
				pageCounts[hash]++
			}
		}
	}

	var hashes []string
	total := float64(len(contents))
	for hash, count := range pageCounts {
		if float64(count)/total >= thresholdPct {
			hashes = append(hashes, hash)
		}
	}
	return hashes
}

// Refresh reanalyzes one (project, domain) and rewrites cleaned_content for
// its pages when blocks were flagged. The scrape workers call this after a
// domain gains pages.
func (s *BoilerplateService) Refresh(ctx context.Context, projectID, domain string) error {
	record, err := s.Analyze(ctx, projectID, domain)
	if err != nil {
		return err
	}
	if record == nil || len(record.BlockHashes) == 0 {
		return nil
	}

	updated, err := s.Apply(ctx, projectID, domain)
	if err != nil {
		return err
	}
	if updated > 0 {
		s.log.Info("boilerplate stripped",
			slog.String("domain", domain),
			slog.Int("pages_updated", updated),
		)
	}
	return nil
}

// HashSet loads the flagged hash set for a (project, domain), empty when the
// domain was never analyzed.
func (s *BoilerplateService) HashSet(ctx context.Context, projectID, domain string) (map[string]struct{}, error) {
	record := &DomainBoilerplate{}
	err := s.db.NewSelect().Model(record).
		Where("db.project_id = ?", projectID).
		Where("db.domain = ?", domain).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("load boilerplate failed").WithInternal(err)
	}

	set := make(map[string]struct{}, len(record.BlockHashes))
	for _, h := range record.BlockHashes {
		set[h] = struct{}{}
	}
	return set, nil
}

// Apply rewrites cleaned_content for every completed page of the domain,
// stripping flagged blocks.
func (s *BoilerplateService) Apply(ctx context.Context, projectID, domain string) (int, error) {
	set, err := s.HashSet(ctx, projectID, domain)
	if err != nil {
		return 0, err
	}
	if len(set) == 0 {
		return 0, nil
	}

	pages, err := s.sources.ListByDomain(ctx, projectID, domain)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, page := range pages {
		cleaned := cleaner.StripBlocks(page.Content, set, s.cfg.MinBlockChars)
		if cleaned == page.CleanedContent {
			continue
		}
		if err := s.sources.UpdateCleanedContent(ctx, page.ID, cleaned); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}
