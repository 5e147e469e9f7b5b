package entities

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

var Module = fx.Module("entities",
	fx.Provide(NewStore),
)

// Store persists entities and their extraction links.
type Store struct {
	db  bun.IDB
	log *slog.Logger
}

// NewStore creates the entity store.
func NewStore(db *bun.DB, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With(logger.Scope("entities")),
	}
}

// WithTx returns a store bound to the given transaction.
func (s *Store) WithTx(tx bun.IDB) *Store {
	return &Store{db: tx, log: s.log}
}

// GetOrCreate returns the entity matching the dedup key
// (project_id, source_group, entity_type, normalized_value), creating it when
// absent. Attributes of an existing entity are merged with last-write-wins.
// The bool reports whether this call created the row.
func (s *Store) GetOrCreate(ctx context.Context, e *Entity) (*Entity, bool, error) {
	if e.NormalizedValue == "" {
		e.NormalizedValue = Normalize(e.Value)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	// ON CONFLICT keeps the first value spelling but refreshes attributes.
	// xmax = 0 distinguishes a fresh insert from a conflict update.
	_, err := s.db.NewInsert().
		Model(e).
		On("CONFLICT (project_id, source_group, entity_type, normalized_value) DO UPDATE").
		Set("attributes = coalesce(en.attributes, '{}'::jsonb) || EXCLUDED.attributes").
		Set("updated_at = now()").
		Returning("*, (xmax = 0) AS inserted").
		Exec(ctx)
	if err != nil {
		return nil, false, apperror.ErrDatabase.WithMessage("get or create entity failed").WithInternal(err)
	}
	return e, e.Inserted, nil
}

// Link records that an extraction references an entity. Duplicate links are
// ignored, the (extraction, entity, role) triple is unique.
func (s *Store) Link(ctx context.Context, extractionID, entityID, role string) error {
	link := &Link{ExtractionID: extractionID, EntityID: entityID, Role: role}
	_, err := s.db.NewInsert().
		Model(link).
		On("CONFLICT (extraction_id, entity_id, role) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithMessage("link entity failed").WithInternal(err)
	}
	return nil
}

// Get fetches one entity.
func (s *Store) Get(ctx context.Context, id string) (*Entity, error) {
	e := &Entity{}
	err := s.db.NewSelect().Model(e).Where("en.id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFound("entity")
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("get entity failed").WithInternal(err)
	}
	return e, nil
}

// ListByProject returns entities for a project, optionally filtered by type.
func (s *Store) ListByProject(ctx context.Context, projectID, entityType string) ([]Entity, error) {
	q := s.db.NewSelect().Model((*Entity)(nil)).
		Where("en.project_id = ?", projectID).
		Order("en.created_at ASC")
	if entityType != "" {
		q = q.Where("en.entity_type = ?", entityType)
	}

	var list []Entity
	if err := q.Model(&list).Scan(ctx); err != nil {
		return nil, apperror.ErrDatabase.WithMessage("list entities failed").WithInternal(err)
	}
	return list, nil
}
