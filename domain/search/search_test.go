package search

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/domain/extraction"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/embeddings"
	"github.com/factweave/factweave/pkg/vectorstore"
)

type fakeEmbedder struct {
	enabled   bool
	vector    []float32
	embedErr  error
	ranked    []embeddings.RankedDoc
	rerankErr error
}

func (f *fakeEmbedder) IsEnabled() bool { return f.enabled }

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.vector, f.embedErr
}

func (f *fakeEmbedder) Rerank(context.Context, string, []string) ([]embeddings.RankedDoc, error) {
	return f.ranked, f.rerankErr
}

type fakeVectors struct {
	results   []vectorstore.Result
	err       error
	lastLimit int
	lastFilter vectorstore.Filter
}

func (f *fakeVectors) EnsureCollection(context.Context) error               { return nil }
func (f *fakeVectors) UpsertBatch(context.Context, []vectorstore.Point) error { return nil }
func (f *fakeVectors) DeleteBatch(context.Context, []string) error          { return nil }

func (f *fakeVectors) Search(_ context.Context, _ []float32, limit int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	f.lastLimit = limit
	f.lastFilter = filter
	return f.results, f.err
}

type fakeRows struct {
	rows []extraction.Extraction
	err  error
}

func (f *fakeRows) GetMany(context.Context, []string) ([]extraction.Extraction, error) {
	return f.rows, f.err
}

func newTestService(emb *fakeEmbedder, vec *fakeVectors, rows *fakeRows) *Service {
	return &Service{
		embedder: emb,
		vectors:  vec,
		store:    rows,
		log:      slog.Default(),
	}
}

func TestSearchValidation(t *testing.T) {
	svc := newTestService(&fakeEmbedder{enabled: true}, &fakeVectors{}, &fakeRows{})

	_, err := svc.Search(context.Background(), Request{ProjectID: "p1"})
	assert.Equal(t, apperror.CodeValidationViolation, apperror.CodeOf(err))

	_, err = svc.Search(context.Background(), Request{Query: "pumps"})
	assert.Equal(t, apperror.CodeValidationViolation, apperror.CodeOf(err))
}

func TestSearchEmbeddingsDisabled(t *testing.T) {
	svc := newTestService(&fakeEmbedder{enabled: false}, &fakeVectors{}, &fakeRows{})

	hits, err := svc.Search(context.Background(), Request{ProjectID: "p1", Query: "pumps"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchVectorStoreUnavailable(t *testing.T) {
	emb := &fakeEmbedder{enabled: true, vector: []float32{0.1, 0.2}}
	vec := &fakeVectors{err: errors.New("connection refused")}
	svc := newTestService(emb, vec, &fakeRows{})

	hits, err := svc.Search(context.Background(), Request{ProjectID: "p1", Query: "pumps"})
	require.NoError(t, err, "vector store outage degrades to empty results")
	assert.Empty(t, hits)
}

func TestSearchHydratesInScoreOrder(t *testing.T) {
	emb := &fakeEmbedder{enabled: true, vector: []float32{0.1}}
	vec := &fakeVectors{results: []vectorstore.Result{
		{ID: "e1", Score: 0.92},
		{ID: "gone", Score: 0.85},
		{ID: "e2", Score: 0.71},
	}}
	rows := &fakeRows{rows: []extraction.Extraction{
		{ID: "e1", ExtractionType: "products"},
		{ID: "e2", ExtractionType: "products"},
	}}
	svc := newTestService(emb, vec, rows)

	hits, err := svc.Search(context.Background(), Request{
		ProjectID:      "p1",
		Query:          "centrifugal pumps",
		SourceGroup:    "acme.com",
		ExtractionType: "products",
	})
	require.NoError(t, err)
	require.Len(t, hits, 2, "hit without a backing row is dropped")
	assert.Equal(t, "e1", hits[0].Extraction.ID)
	assert.Equal(t, float32(0.92), hits[0].Score)
	assert.Equal(t, "e2", hits[1].Extraction.ID)

	assert.Equal(t, defaultLimit, vec.lastLimit)
	assert.Equal(t, "p1", vec.lastFilter.ProjectID)
	assert.Equal(t, "acme.com", vec.lastFilter.SourceGroup)
	assert.Equal(t, "products", vec.lastFilter.ExtractionType)
}

func TestSearchLimitClamped(t *testing.T) {
	emb := &fakeEmbedder{enabled: true, vector: []float32{0.1}}
	vec := &fakeVectors{}
	svc := newTestService(emb, vec, &fakeRows{})

	_, err := svc.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, vec.lastLimit)
}

func TestSearchRerankReorders(t *testing.T) {
	emb := &fakeEmbedder{
		enabled: true,
		vector:  []float32{0.1},
		ranked: []embeddings.RankedDoc{
			{Index: 1, Score: 0.99},
			{Index: 0, Score: 0.40},
		},
	}
	vec := &fakeVectors{results: []vectorstore.Result{
		{ID: "e1", Score: 0.92},
		{ID: "e2", Score: 0.71},
	}}
	rows := &fakeRows{rows: []extraction.Extraction{{ID: "e1"}, {ID: "e2"}}}
	svc := newTestService(emb, vec, rows)

	hits, err := svc.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Rerank: true})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "e2", hits[0].Extraction.ID)
	require.NotNil(t, hits[0].RerankScore)
	assert.Equal(t, 0.99, *hits[0].RerankScore)
	assert.Equal(t, "e1", hits[1].Extraction.ID)
}

func TestSearchRerankFailureKeepsVectorOrder(t *testing.T) {
	emb := &fakeEmbedder{
		enabled:   true,
		vector:    []float32{0.1},
		rerankErr: errors.New("rerank backend down"),
	}
	vec := &fakeVectors{results: []vectorstore.Result{
		{ID: "e1", Score: 0.92},
		{ID: "e2", Score: 0.71},
	}}
	rows := &fakeRows{rows: []extraction.Extraction{{ID: "e1"}, {ID: "e2"}}}
	svc := newTestService(emb, vec, rows)

	hits, err := svc.Search(context.Background(), Request{ProjectID: "p1", Query: "q", Rerank: true})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "e1", hits[0].Extraction.ID)
	assert.Nil(t, hits[0].RerankScore)
}
