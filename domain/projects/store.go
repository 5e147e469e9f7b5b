package projects

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
	"github.com/factweave/factweave/pkg/pgutils"
)

var Module = fx.Module("projects",
	fx.Provide(NewStore),
)

// Store persists projects.
type Store struct {
	db  bun.IDB
	log *slog.Logger
}

// NewStore creates the project store.
func NewStore(db *bun.DB, log *slog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With(logger.Scope("projects")),
	}
}

// Create inserts a project. Name collisions with live projects are conflicts.
func (s *Store) Create(ctx context.Context, p *Project) error {
	if strings.TrimSpace(p.Name) == "" {
		return apperror.ErrValidation.WithMessage("project name is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	if _, err := s.db.NewInsert().Model(p).Exec(ctx); err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithMessage("a project with this name already exists")
		}
		return apperror.ErrDatabase.WithMessage("create project failed").WithInternal(err)
	}

	s.log.Info("project created",
		slog.String("project_id", p.ID),
		slog.String("name", p.Name),
	)
	return nil
}

// Get fetches one live project.
func (s *Store) Get(ctx context.Context, id string) (*Project, error) {
	p := &Project{}
	err := s.db.NewSelect().Model(p).Where("p.id = ?", id).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFound("project")
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("get project failed").WithInternal(err)
	}
	return p, nil
}

// GetByName fetches a live project by its normalized name.
func (s *Store) GetByName(ctx context.Context, name string) (*Project, error) {
	p := &Project{}
	err := s.db.NewSelect().Model(p).Where("lower(p.name) = ?", NormalizeName(name)).Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, apperror.NewNotFound("project")
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("get project by name failed").WithInternal(err)
	}
	return p, nil
}

// List returns all live projects ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Project, error) {
	var list []Project
	err := s.db.NewSelect().Model(&list).Order("p.created_at ASC").Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("list projects failed").WithInternal(err)
	}
	return list, nil
}

// Update persists schema and config changes.
func (s *Store) Update(ctx context.Context, p *Project) error {
	res, err := s.db.NewUpdate().
		Model(p).
		Column("name", "description", "extraction_schema", "entity_types",
			"extraction_context", "classification_config", "crawl_config").
		Set("updated_at = now()").
		WherePK().
		Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithMessage("a project with this name already exists")
		}
		return apperror.ErrDatabase.WithMessage("update project failed").WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("project")
	}
	return nil
}

// Delete soft-deletes the project. Rows and vectors owned by the project are
// kept; reads filter them out via the deleted_at flag.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().Model((*Project)(nil)).Where("p.id = ?", id).Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithMessage("delete project failed").WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("project")
	}

	s.log.Info("project soft-deleted", slog.String("project_id", id))
	return nil
}
