package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/uptrace/bun"

	"github.com/factweave/factweave/domain/entities"
	"github.com/factweave/factweave/domain/projects"
	"github.com/factweave/factweave/domain/sources"
	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/alerts"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/embeddings"
	"github.com/factweave/factweave/pkg/logger"
	"github.com/factweave/factweave/pkg/vectorstore"
)

// factStore is the slice of Store the pipeline writes through.
type factStore interface {
	InsertWithLinks(ctx context.Context, rows []*Extraction, link func(tx bun.IDB) error) error
	SetEmbeddingID(ctx context.Context, ids []string) error
	FindOrphans(ctx context.Context, projectID string, limit int) ([]Extraction, error)
}

// entityLinker is the slice of entities.Store used when persisting
// entity-list results.
type entityLinker interface {
	GetOrCreate(ctx context.Context, e *entities.Entity) (*entities.Entity, bool, error)
	Link(ctx context.Context, extractionID, entityID, role string) error
}

type docEmbedder interface {
	IsEnabled() bool
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type alertSink interface {
	Emit(ctx context.Context, alert alerts.Alert)
	RecoveryCompleted(ctx context.Context, projectID string, recovered, failed int)
}

// Pipeline is the dual-write extraction pipeline: fact rows into PostgreSQL
// first, vectors second. A vector-side failure leaves orphans (embedding_id
// NULL) that RecoverOrphans repairs later.
type Pipeline struct {
	store        factStore
	sources      *sources.Store
	entities     *entities.Store
	orchestrator *Orchestrator
	embedder     docEmbedder
	vectors      vectorstore.Store
	alerts       alertSink
	cfg          config.ExtractionConfig
	log          *slog.Logger
}

// NewPipeline creates the pipeline.
func NewPipeline(
	store *Store,
	src *sources.Store,
	ent *entities.Store,
	orch *Orchestrator,
	embedder *embeddings.Service,
	vectors vectorstore.Store,
	alertSvc *alerts.Service,
	cfg *config.Config,
	log *slog.Logger,
) *Pipeline {
	return &Pipeline{
		store:        store,
		sources:      src,
		entities:     ent,
		orchestrator: orch,
		embedder:     embedder,
		vectors:      vectors,
		alerts:       alertSvc,
		cfg:          cfg.Extraction,
		log:          log.With(logger.Scope("pipeline")),
	}
}

// SourceOutcome summarizes the pipeline result for one source.
type SourceOutcome struct {
	SourceID        string   `json:"source_id"`
	Skipped         bool     `json:"skipped,omitempty"`
	Extractions     int      `json:"extractions"`
	Entities        int      `json:"entities"`
	EntitiesCreated int      `json:"entities_created"`
	Orphans         int      `json:"orphans"`
	ExtractionIDs   []string `json:"extraction_ids,omitempty"`
}

// ProcessSource runs extraction for one source end to end.
func (p *Pipeline) ProcessSource(
	ctx context.Context,
	project *projects.Project,
	sourceID string,
	cancelled CancelCheck,
) (*SourceOutcome, error) {
	source, err := p.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	outcome := &SourceOutcome{SourceID: sourceID}

	if source.Status != sources.StatusCompleted {
		outcome.Skipped = true
		return outcome, nil
	}
	if source.PageType == "skip" {
		outcome.Skipped = true
		return outcome, nil
	}

	results, err := p.orchestrator.ExtractSource(ctx, project, source, source.RelevantFieldGroups, cancelled)
	if err != nil {
		return outcome, err
	}
	if len(results) == 0 {
		return outcome, nil
	}

	// Fact rows and their entity links commit together; the vector write
	// below stays outside the transaction.
	rows := p.buildRows(project, source, results)
	var linked, created int
	err = p.store.InsertWithLinks(ctx, rows, func(tx bun.IDB) error {
		var linkErr error
		linked, created, linkErr = p.persistEntities(ctx, p.entities.WithTx(tx), project, source, results, rows)
		return linkErr
	})
	if err != nil {
		return outcome, err
	}
	outcome.Extractions = len(rows)
	for _, r := range rows {
		outcome.ExtractionIDs = append(outcome.ExtractionIDs, r.ID)
	}
	outcome.Entities = linked
	outcome.EntitiesCreated = created

	// Rows are committed; embedding failures from here on leave orphans,
	// never roll back fact data.
	if err := p.embedRows(ctx, rows); err != nil {
		outcome.Orphans = len(rows)
		p.alerts.Emit(ctx, alerts.Alert{
			Type:      alerts.TypeEmbeddingFailure,
			Level:     alerts.LevelError,
			Title:     "extraction embedding failed",
			Message:   err.Error(),
			ProjectID: project.ID,
			SourceID:  sourceID,
			Details:   map[string]any{"extractions": len(rows)},
		})
		p.log.Warn("embedding failed, extractions orphaned",
			slog.String("source_id", sourceID),
			slog.Int("orphans", len(rows)),
			logger.Error(err),
		)
		return outcome, nil
	}

	return outcome, nil
}

func (p *Pipeline) buildRows(project *projects.Project, source *sources.Source, results []GroupResult) []*Extraction {
	rows := make([]*Extraction, 0, len(results))
	for _, res := range results {
		data := res.Data
		if res.IsEntityList {
			data = map[string]any{
				res.GroupName: anySlice(res.Entities),
				KeyConfidence: res.Confidence,
			}
		}
		rows = append(rows, &Extraction{
			ProjectID:      project.ID,
			SourceID:       source.ID,
			SourceGroup:    source.SourceGroup,
			ExtractionType: res.GroupName,
			Data:           data,
			Confidence:     res.Confidence,
			ProfileUsed:    project.ExtractionSchema.Name,
		})
	}
	return rows
}

// persistEntities creates deduped entity rows and link rows for entity-list
// group results. Returns how many links landed and how many entities were
// newly created (the rest dedup'd onto existing rows).
func (p *Pipeline) persistEntities(
	ctx context.Context,
	linker entityLinker,
	project *projects.Project,
	source *sources.Source,
	results []GroupResult,
	rows []*Extraction,
) (linked, created int, err error) {
	rowByGroup := map[string]*Extraction{}
	for _, r := range rows {
		rowByGroup[r.ExtractionType] = r
	}

	for _, res := range results {
		if !res.IsEntityList {
			continue
		}
		group, ok := project.ExtractionSchema.Group(res.GroupName)
		if !ok {
			continue
		}
		idField := project.ExtractionContext.IdentifierField(group)
		row := rowByGroup[res.GroupName]

		for _, item := range res.Entities {
			value, _ := item[idField].(string)
			if value == "" {
				continue
			}
			entityType := group.EntityType
			if entityType == "" {
				entityType = res.GroupName
			}
			entity, fresh, err := linker.GetOrCreate(ctx, &entities.Entity{
				ProjectID:   project.ID,
				SourceGroup: source.SourceGroup,
				EntityType:  entityType,
				Value:       value,
				Attributes:  entityAttributes(item, idField),
			})
			if err != nil {
				return linked, created, err
			}
			if fresh {
				created++
			}
			if err := linker.Link(ctx, row.ID, entity.ID, "extracted_from"); err != nil {
				return linked, created, err
			}
			linked++
		}
	}
	return linked, created, nil
}

func entityAttributes(item map[string]any, idField string) map[string]any {
	attrs := map[string]any{}
	for k, v := range item {
		if k == idField || IsMetadataKey(k) || v == nil {
			continue
		}
		attrs[k] = v
	}
	return attrs
}

// embedRows embeds fact texts, upserts vectors and flips embedding_id.
func (p *Pipeline) embedRows(ctx context.Context, rows []*Extraction) error {
	if len(rows) == 0 {
		return nil
	}
	if !p.embedder.IsEnabled() {
		return apperror.ErrEmbeddingFailure.WithMessage("embeddings service disabled")
	}

	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = FactText(r)
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(rows) {
		return apperror.ErrEmbeddingFailure.WithMessage(
			fmt.Sprintf("embedding count mismatch: %d texts, %d vectors", len(rows), len(vectors)))
	}

	points := make([]vectorstore.Point, len(rows))
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		points[i] = vectorstore.Point{
			ID:     r.ID,
			Vector: vectors[i],
			Payload: map[string]any{
				"project_id":      r.ProjectID,
				"source_group":    r.SourceGroup,
				"extraction_type": r.ExtractionType,
			},
		}
	}
	if err := p.vectors.UpsertBatch(ctx, points); err != nil {
		return err
	}
	return p.store.SetEmbeddingID(ctx, ids)
}

// FactText renders an extraction as the text that gets embedded: the type
// followed by "field: value" pairs in stable order, metadata keys skipped.
func FactText(e *Extraction) string {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if IsMetadataKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(e.ExtractionType)
	for _, k := range keys {
		v := e.Data[k]
		if v == nil {
			continue
		}
		fmt.Fprintf(&sb, "; %s: %s", k, factValue(v))
	}
	return sb.String()
}

func factValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, factValue(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		return canonicalJSON(val)
	default:
		return fmt.Sprint(val)
	}
}

// BatchResult is the outcome of ProcessBatch.
type BatchResult struct {
	Outcomes []*SourceOutcome  `json:"outcomes"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// ProcessBatch runs sources concurrently with a bounded gather. Individual
// source failures are collected, they never abort the batch. Cancellation is
// honored between sources.
func (p *Pipeline) ProcessBatch(
	ctx context.Context,
	project *projects.Project,
	sourceIDs []string,
	cancelled CancelCheck,
) (*BatchResult, error) {
	concurrency := p.cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	result := &BatchResult{Errors: map[string]string{}}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for _, id := range sourceIDs {
		if cancelled != nil {
			stop, err := cancelled(ctx)
			if err != nil {
				break
			}
			if stop {
				wg.Wait()
				return result, apperror.ErrCancelled.WithMessage("batch cancelled between sources")
			}
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(sourceID string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := p.ProcessSource(ctx, project, sourceID, cancelled)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[sourceID] = err.Error()
				return
			}
			result.Outcomes = append(result.Outcomes, outcome)
		}(id)
	}
	wg.Wait()

	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}

// RecoverOrphans re-embeds extractions whose vector write failed, in batches.
// Scoped to one project when projectID is set, all projects otherwise.
// Idempotent: the vector upsert is keyed by extraction id and embedding_id
// flips only after a successful upsert.
func (p *Pipeline) RecoverOrphans(ctx context.Context, projectID string, batchSize int) (recovered, failed int, err error) {
	if batchSize <= 0 {
		batchSize = 50
	}

	for {
		orphans, err := p.store.FindOrphans(ctx, projectID, batchSize)
		if err != nil {
			return recovered, failed, err
		}
		if len(orphans) == 0 {
			break
		}

		rows := make([]*Extraction, len(orphans))
		for i := range orphans {
			rows[i] = &orphans[i]
		}
		if err := p.embedRows(ctx, rows); err != nil {
			failed += len(rows)
			p.log.Warn("orphan recovery batch failed",
				slog.Int("batch", len(rows)),
				logger.Error(err),
			)
			break
		}
		recovered += len(rows)

		if len(orphans) < batchSize {
			break
		}
	}

	if recovered > 0 || failed > 0 {
		p.alerts.RecoveryCompleted(ctx, projectID, recovered, failed)
	}
	return recovered, failed, nil
}
