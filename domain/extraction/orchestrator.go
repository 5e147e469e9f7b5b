package extraction

import (
	"context"
	"log/slog"
	"strings"

	"github.com/factweave/factweave/domain/projects"
	"github.com/factweave/factweave/domain/sources"
	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/chunker"
	"github.com/factweave/factweave/pkg/llm"
	"github.com/factweave/factweave/pkg/logger"
	"github.com/factweave/factweave/pkg/retry"
)

// Completer runs one JSON-mode completion. Satisfied by the direct provider
// and by the queue-backed client.
type Completer interface {
	CompleteJSON(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// GroupResult is the merged, validated output of one field group over one
// source.
type GroupResult struct {
	GroupName    string
	IsEntityList bool
	// Data holds the merged object for non-entity groups.
	Data map[string]any
	// Entities holds validated items for entity-list groups.
	Entities   []map[string]any
	Confidence float64
	ChunkCount int
}

// Orchestrator chunks a source, extracts each relevant field group per chunk
// and merges chunk results into group results.
type Orchestrator struct {
	completer Completer
	prompts   *PromptBuilder
	merger    *Merger
	validator *Validator
	cfg       config.ExtractionConfig
	retryPol  retry.Policy
	log       *slog.Logger
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(completer Completer, cfg *config.Config, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		completer: completer,
		prompts:   NewPromptBuilder(cfg.Extraction.SourceQuotingEnabled),
		merger:    NewMerger(cfg.Extraction.ConflictDetectionEnabled),
		validator: NewValidator(cfg.Extraction.MinConfidence),
		cfg:       cfg.Extraction,
		retryPol:  retry.DefaultPolicy(),
		log:       log.With(logger.Scope("orchestrator")),
	}
}

// CancelCheck is polled between chunks; returning true aborts the source.
type CancelCheck func(ctx context.Context) (bool, error)

// ExtractSource runs the configured field groups over one source. groups
// narrows extraction to the named groups; empty means all.
func (o *Orchestrator) ExtractSource(
	ctx context.Context,
	project *projects.Project,
	source *sources.Source,
	groups []string,
	cancelled CancelCheck,
) ([]GroupResult, error) {
	content := source.CleanedContent
	if content == "" {
		content = source.Content
	}
	chunks := chunker.Split(content, chunker.Config{
		MaxTokens:     o.cfg.ChunkMaxTokens,
		OverlapTokens: o.cfg.ChunkOverlapTokens,
	})
	if len(chunks) == 0 {
		return nil, nil
	}

	wanted := o.resolveGroups(project.ExtractionSchema, groups)
	results := make([]GroupResult, 0, len(wanted))

	for _, group := range wanted {
		chunkResults, err := o.extractGroup(ctx, project, group, chunks, cancelled)
		if err != nil {
			return results, err
		}
		if len(chunkResults) == 0 {
			continue
		}

		res := o.mergeAndValidate(project, group, chunkResults)
		if res.Confidence < o.cfg.MinConfidence {
			o.log.Debug("group below confidence floor",
				slog.String("source_id", source.ID),
				slog.String("group", group.Name),
				slog.Float64("confidence", res.Confidence),
			)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (o *Orchestrator) resolveGroups(schema projects.ExtractionSchema, names []string) []projects.FieldGroup {
	if len(names) == 0 {
		return schema.Groups
	}
	wanted := make([]projects.FieldGroup, 0, len(names))
	for _, name := range names {
		if g, ok := schema.Group(name); ok {
			wanted = append(wanted, g)
		}
	}
	return wanted
}

// extractGroup runs one group over every chunk. Chunks whose completions
// fail after retries are skipped, not fatal: partial coverage beats none.
func (o *Orchestrator) extractGroup(
	ctx context.Context,
	project *projects.Project,
	group projects.FieldGroup,
	chunks []chunker.Chunk,
	cancelled CancelCheck,
) ([]ChunkResult, error) {
	systemPrompt := o.prompts.SystemPrompt(group, project.ExtractionContext)

	var results []ChunkResult
	for _, chunk := range chunks {
		if cancelled != nil {
			stop, err := cancelled(ctx)
			if err != nil {
				return results, err
			}
			if stop {
				return results, apperror.ErrCancelled.WithMessage("extraction cancelled between chunks")
			}
		}

		headerPath := strings.Join(chunk.HeaderPath, " > ")

		var resp *llm.Response
		err := retry.Do(ctx, o.retryPol, func(ctx context.Context) error {
			var callErr error
			resp, callErr = o.completer.CompleteJSON(ctx, llm.Request{
				SystemPrompt: systemPrompt,
				UserPrompt:   o.prompts.UserPrompt(headerPath, chunk.Text),
			})
			return callErr
		})
		if err != nil {
			o.log.Warn("chunk extraction failed",
				slog.String("group", group.Name),
				slog.Int("chunk", chunk.Index),
				logger.Error(err),
			)
			continue
		}

		data, err := llm.ParseObject(resp.Content)
		if err != nil {
			o.log.Warn("chunk response unparseable",
				slog.String("group", group.Name),
				slog.Int("chunk", chunk.Index),
				logger.Error(err),
			)
			continue
		}
		results = append(results, ChunkResult{ChunkIndex: chunk.Index, Data: data})
	}
	return results, nil
}

func (o *Orchestrator) mergeAndValidate(project *projects.Project, group projects.FieldGroup, chunkResults []ChunkResult) GroupResult {
	if group.IsEntityList {
		idField := project.ExtractionContext.IdentifierField(group)
		items := o.merger.MergeEntityList(idField, chunkResults)
		validated := o.validator.ValidateEntityList(group, anySlice(items))

		confidence := 0.0
		for _, res := range chunkResults {
			confidence += Confidence(res.Data)
		}
		if len(chunkResults) > 0 {
			confidence /= float64(len(chunkResults))
		}

		return GroupResult{
			GroupName:    group.Name,
			IsEntityList: true,
			Entities:     validated,
			Confidence:   confidence,
			ChunkCount:   len(chunkResults),
		}
	}

	merged := o.merger.MergeObject(group, chunkResults)
	validated := o.validator.ValidateObject(group, merged)
	return GroupResult{
		GroupName:  group.Name,
		Data:       validated,
		Confidence: Confidence(validated),
		ChunkCount: len(chunkResults),
	}
}

func anySlice(items []map[string]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
