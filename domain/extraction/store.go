package extraction

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/factweave/factweave/internal/database"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

// Store persists extraction rows.
type Store struct {
	db  bun.IDB
	log *slog.Logger
}

// NewStore creates the extraction store.
func NewStore(db *bun.DB, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With(logger.Scope("extractions")),
	}
}

// InsertWithLinks writes new extraction rows with embedding_id NULL and runs
// link inside the same transaction, so fact rows and their entity links land
// atomically. The rollback in the error path is safe after commit.
func (s *Store) InsertWithLinks(ctx context.Context, rows []*Extraction, link func(tx bun.IDB) error) error {
	if len(rows) == 0 {
		return nil
	}
	for _, r := range rows {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
	}

	tx, err := database.BeginSafeTx(ctx, s.db)
	if err != nil {
		return apperror.ErrDatabase.WithMessage("begin extraction insert failed").WithInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithMessage("insert extractions failed").WithInternal(err)
	}
	if link != nil {
		if err := link(tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return apperror.ErrDatabase.WithMessage("commit extraction insert failed").WithInternal(err)
	}
	return nil
}

// Get fetches one extraction.
func (s *Store) Get(ctx context.Context, id string) (*Extraction, error) {
	e := &Extraction{}
	err := s.db.NewSelect().Model(e).Where("e.id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFound("extraction")
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("get extraction failed").WithInternal(err)
	}
	return e, nil
}

// GetMany hydrates extraction rows by id, preserving the requested order.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]Extraction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []Extraction
	err := s.db.NewSelect().Model(&rows).
		Where("e.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("get extractions failed").WithInternal(err)
	}

	byID := make(map[string]Extraction, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	ordered := make([]Extraction, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// ListBySource returns all extractions for one source.
func (s *Store) ListBySource(ctx context.Context, sourceID string) ([]Extraction, error) {
	var rows []Extraction
	err := s.db.NewSelect().Model(&rows).
		Where("e.source_id = ?", sourceID).
		Order("e.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("list extractions failed").WithInternal(err)
	}
	return rows, nil
}

// SetEmbeddingID flips embedding_id = id for the given rows, marking them
// searchable. Idempotent.
func (s *Store) SetEmbeddingID(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.NewUpdate().Model((*Extraction)(nil)).
		Set("embedding_id = id").
		Set("updated_at = now()").
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithMessage("set embedding id failed").WithInternal(err)
	}
	return nil
}

// FindOrphans returns extractions whose embedding never landed. Scoped to a
// project when projectID is non-empty.
func (s *Store) FindOrphans(ctx context.Context, projectID string, limit int) ([]Extraction, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.NewSelect().Model((*Extraction)(nil)).
		Where("e.embedding_id IS NULL").
		Where("e.data IS NOT NULL AND e.data != '{}'::jsonb").
		Order("e.created_at ASC").
		Limit(limit)
	if projectID != "" {
		q = q.Where("e.project_id = ?", projectID)
	}

	var rows []Extraction
	if err := q.Model(&rows).Scan(ctx); err != nil {
		return nil, apperror.ErrDatabase.WithMessage("find orphans failed").WithInternal(err)
	}
	return rows, nil
}

// CountOrphans reports how many orphans remain, for the maintenance sweep.
func (s *Store) CountOrphans(ctx context.Context, projectID string) (int, error) {
	q := s.db.NewSelect().Model((*Extraction)(nil)).
		Where("e.embedding_id IS NULL").
		Where("e.data IS NOT NULL AND e.data != '{}'::jsonb")
	if projectID != "" {
		q = q.Where("e.project_id = ?", projectID)
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithMessage("count orphans failed").WithInternal(err)
	}
	return count, nil
}
