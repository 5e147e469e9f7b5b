package sources

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

var Module = fx.Module("sources",
	fx.Provide(NewStore),
)

// Store persists sources.
type Store struct {
	db  bun.IDB
	log *slog.Logger
}

// NewStore creates the source store.
func NewStore(db *bun.DB, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With(logger.Scope("sources")),
	}
}

// Upsert inserts the source or, when (project_id, uri) already exists,
// refreshes its content and classification. Error-page sources
// (http_status >= 400) are rejected, they must never be stored.
func (s *Store) Upsert(ctx context.Context, src *Source) error {
	if status := src.HTTPStatus(); status >= 400 {
		return apperror.ErrFetchHard.WithMessage("refusing to store error page").
			WithDetails(map[string]any{"uri": src.URI, "http_status": status})
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}

	_, err := s.db.NewInsert().
		Model(src).
		On("CONFLICT (project_id, uri) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("content = EXCLUDED.content").
		Set("cleaned_content = EXCLUDED.cleaned_content").
		Set("status = EXCLUDED.status").
		Set("created_by_job_id = EXCLUDED.created_by_job_id").
		Set("page_type = EXCLUDED.page_type").
		Set("relevant_field_groups = EXCLUDED.relevant_field_groups").
		Set("classification_method = EXCLUDED.classification_method").
		Set("classification_confidence = EXCLUDED.classification_confidence").
		Set("meta_data = EXCLUDED.meta_data").
		Set("updated_at = now()").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithMessage("upsert source failed").WithInternal(err)
	}
	return nil
}

// Get fetches one source.
func (s *Store) Get(ctx context.Context, id string) (*Source, error) {
	src := &Source{}
	err := s.db.NewSelect().Model(src).Where("s.id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFound("source")
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("get source failed").WithInternal(err)
	}
	return src, nil
}

// GetByURI fetches a source by its project-scoped URI.
func (s *Store) GetByURI(ctx context.Context, projectID, uri string) (*Source, error) {
	src := &Source{}
	err := s.db.NewSelect().Model(src).
		Where("s.project_id = ?", projectID).
		Where("s.uri = ?", uri).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFound("source")
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("get source by uri failed").WithInternal(err)
	}
	return src, nil
}

// ListCompleted returns completed sources for a project, optionally scoped
// to one source group.
func (s *Store) ListCompleted(ctx context.Context, projectID, sourceGroup string) ([]Source, error) {
	q := s.db.NewSelect().Model((*Source)(nil)).
		Where("s.project_id = ?", projectID).
		Where("s.status = ?", string(StatusCompleted)).
		Order("s.created_at ASC")
	if sourceGroup != "" {
		q = q.Where("s.source_group = ?", sourceGroup)
	}

	var list []Source
	if err := q.Model(&list).Scan(ctx); err != nil {
		return nil, apperror.ErrDatabase.WithMessage("list sources failed").WithInternal(err)
	}
	return list, nil
}

// ListByDomain returns completed sources for one project and domain, used
// by the boilerplate analyzer.
func (s *Store) ListByDomain(ctx context.Context, projectID, domain string) ([]Source, error) {
	var list []Source
	err := s.db.NewSelect().Model(&list).
		Where("s.project_id = ?", projectID).
		Where("s.status = ?", string(StatusCompleted)).
		Where("s.meta_data->>'domain' = ?", domain).
		Order("s.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("list sources by domain failed").WithInternal(err)
	}
	return list, nil
}

// UpdateCleanedContent stores the boilerplate-stripped rendition.
func (s *Store) UpdateCleanedContent(ctx context.Context, id, cleaned string) error {
	_, err := s.db.NewUpdate().Model((*Source)(nil)).
		Set("cleaned_content = ?", cleaned).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithMessage("update cleaned content failed").WithInternal(err)
	}
	return nil
}

// IDsByJob lists source ids created by one job.
func (s *Store) IDsByJob(ctx context.Context, jobID string) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().Model((*Source)(nil)).
		Column("s.id").
		Where("s.created_by_job_id = ?", jobID).
		Scan(ctx, &ids)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("list job sources failed").WithInternal(err)
	}
	return ids, nil
}
