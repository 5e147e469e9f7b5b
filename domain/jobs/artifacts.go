package jobs

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
	"github.com/factweave/factweave/pkg/vectorstore"
)

// ArtifactCleaner removes everything a cancelled job produced.
type ArtifactCleaner struct {
	db      bun.IDB
	vectors vectorstore.Store
	log     *slog.Logger
}

// NewArtifactCleaner creates the cleaner.
func NewArtifactCleaner(db *bun.DB, vectors vectorstore.Store, log *slog.Logger) *ArtifactCleaner {
	return &ArtifactCleaner{
		db:      db,
		vectors: vectors,
		log:     log.With(logger.Scope("job-artifacts")),
	}
}

// ArtifactCounts reports what a cleanup removed.
type ArtifactCounts struct {
	Sources      int `json:"sources"`
	Extractions  int `json:"extractions"`
	VectorPoints int `json:"vector_points"`
}

// DeleteArtifacts deletes sources created by the job, their extractions
// (via FK cascade) and the corresponding vector points. Vector points go
// first so a failure there leaves rows behind for a retry instead of
// orphaning points. Idempotent: a second call finds nothing.
func (c *ArtifactCleaner) DeleteArtifacts(ctx context.Context, jobID string) (*ArtifactCounts, error) {
	counts := &ArtifactCounts{}

	var embeddingIDs []string
	err := c.db.NewRaw(`
		SELECT e.embedding_id
		FROM extractions e
		JOIN sources s ON s.id = e.source_id
		WHERE s.created_by_job_id = $1 AND e.embedding_id IS NOT NULL`, jobID).
		Scan(ctx, &embeddingIDs)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("list job embeddings failed").WithInternal(err)
	}

	if len(embeddingIDs) > 0 && c.vectors != nil {
		if err := c.vectors.DeleteBatch(ctx, embeddingIDs); err != nil {
			return nil, err
		}
		counts.VectorPoints = len(embeddingIDs)
	}

	err = c.db.NewRaw(`
		SELECT count(*) FROM extractions e
		JOIN sources s ON s.id = e.source_id
		WHERE s.created_by_job_id = $1`, jobID).
		Scan(ctx, &counts.Extractions)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("count job extractions failed").WithInternal(err)
	}

	delRes, err := c.db.ExecContext(ctx,
		`DELETE FROM sources WHERE created_by_job_id = $1`, jobID)
	if err != nil {
		return nil, apperror.ErrDatabase.WithMessage("delete job sources failed").WithInternal(err)
	}
	deleted, _ := delRes.RowsAffected()
	counts.Sources = int(deleted)

	if counts.Sources > 0 || counts.VectorPoints > 0 {
		c.log.Info("job artifacts deleted",
			slog.String("job_id", jobID),
			slog.Int("sources", counts.Sources),
			slog.Int("extractions", counts.Extractions),
			slog.Int("vector_points", counts.VectorPoints),
		)
	}
	return counts, nil
}
