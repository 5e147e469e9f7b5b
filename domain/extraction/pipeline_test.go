package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/factweave/factweave/domain/entities"
	"github.com/factweave/factweave/domain/projects"
	"github.com/factweave/factweave/domain/sources"
	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/alerts"
	"github.com/factweave/factweave/pkg/vectorstore"
)

type fakeFactStore struct {
	orphans  []Extraction
	inserted [][]*Extraction
	flipped  [][]string
	findErr  error
}

func (f *fakeFactStore) InsertWithLinks(_ context.Context, rows []*Extraction, link func(tx bun.IDB) error) error {
	f.inserted = append(f.inserted, rows)
	if link != nil {
		return link(nil)
	}
	return nil
}

// SetEmbeddingID drops the named rows from the orphan set, mirroring the
// embedding_id flip.
func (f *fakeFactStore) SetEmbeddingID(_ context.Context, ids []string) error {
	f.flipped = append(f.flipped, ids)
	done := map[string]bool{}
	for _, id := range ids {
		done[id] = true
	}
	var remaining []Extraction
	for _, o := range f.orphans {
		if !done[o.ID] {
			remaining = append(remaining, o)
		}
	}
	f.orphans = remaining
	return nil
}

func (f *fakeFactStore) FindOrphans(_ context.Context, _ string, limit int) ([]Extraction, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if len(f.orphans) > limit {
		return append([]Extraction(nil), f.orphans[:limit]...), nil
	}
	return append([]Extraction(nil), f.orphans...), nil
}

type fakeDocEmbedder struct {
	enabled bool
	err     error
	calls   int
}

func (f *fakeDocEmbedder) IsEnabled() bool { return f.enabled }

func (f *fakeDocEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type fakeVectorIndex struct {
	upserts   [][]vectorstore.Point
	upsertErr error
}

func (f *fakeVectorIndex) EnsureCollection(context.Context) error      { return nil }
func (f *fakeVectorIndex) DeleteBatch(context.Context, []string) error { return nil }

func (f *fakeVectorIndex) Search(context.Context, []float32, int, vectorstore.Filter) ([]vectorstore.Result, error) {
	return nil, nil
}

func (f *fakeVectorIndex) UpsertBatch(_ context.Context, points []vectorstore.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, points)
	return nil
}

type fakeAlertSink struct {
	emitted    []alerts.Alert
	recoveries [][2]int
}

func (f *fakeAlertSink) Emit(_ context.Context, alert alerts.Alert) {
	f.emitted = append(f.emitted, alert)
}

func (f *fakeAlertSink) RecoveryCompleted(_ context.Context, _ string, recovered, failed int) {
	f.recoveries = append(f.recoveries, [2]int{recovered, failed})
}

func newTestPipeline(store *fakeFactStore, emb *fakeDocEmbedder, vec *fakeVectorIndex, sink *fakeAlertSink) *Pipeline {
	return &Pipeline{
		store:    store,
		embedder: emb,
		vectors:  vec,
		alerts:   sink,
		cfg:      config.ExtractionConfig{},
		log:      slog.Default(),
	}
}

func orphanRow(id string) Extraction {
	return Extraction{
		ID:             id,
		ProjectID:      "p1",
		SourceGroup:    "acme.com",
		ExtractionType: "products",
		Data:           map[string]any{"name": "Pump " + id},
	}
}

func TestEmbedRowsFlipsAfterUpsert(t *testing.T) {
	store := &fakeFactStore{}
	vec := &fakeVectorIndex{}
	p := newTestPipeline(store, &fakeDocEmbedder{enabled: true}, vec, &fakeAlertSink{})

	e1 := orphanRow("e1")
	e2 := orphanRow("e2")
	require.NoError(t, p.embedRows(context.Background(), []*Extraction{&e1, &e2}))

	require.Len(t, vec.upserts, 1)
	assert.Equal(t, "e1", vec.upserts[0][0].ID)
	assert.Equal(t, "p1", vec.upserts[0][0].Payload["project_id"])
	assert.Equal(t, "acme.com", vec.upserts[0][0].Payload["source_group"])
	require.Len(t, store.flipped, 1)
	assert.Equal(t, []string{"e1", "e2"}, store.flipped[0])
}

func TestEmbedRowsVectorFailureLeavesEmbeddingUnset(t *testing.T) {
	store := &fakeFactStore{}
	vec := &fakeVectorIndex{upsertErr: errors.New("qdrant unavailable")}
	p := newTestPipeline(store, &fakeDocEmbedder{enabled: true}, vec, &fakeAlertSink{})

	e1 := orphanRow("e1")
	err := p.embedRows(context.Background(), []*Extraction{&e1})

	require.Error(t, err)
	assert.Empty(t, store.flipped, "embedding_id stays NULL when the vector write fails")
}

func TestRecoverOrphansReembeds(t *testing.T) {
	store := &fakeFactStore{orphans: []Extraction{orphanRow("e1"), orphanRow("e2")}}
	vec := &fakeVectorIndex{}
	sink := &fakeAlertSink{}
	p := newTestPipeline(store, &fakeDocEmbedder{enabled: true}, vec, sink)

	recovered, failed, err := p.RecoverOrphans(context.Background(), "p1", 50)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)
	assert.Zero(t, failed)
	require.Len(t, store.flipped, 1)
	assert.Equal(t, []string{"e1", "e2"}, store.flipped[0])
	require.Len(t, sink.recoveries, 1)
	assert.Equal(t, [2]int{2, 0}, sink.recoveries[0])

	// A second sweep finds nothing and stays silent.
	recovered, failed, err = p.RecoverOrphans(context.Background(), "p1", 50)
	require.NoError(t, err)
	assert.Zero(t, recovered)
	assert.Zero(t, failed)
	assert.Len(t, sink.recoveries, 1)
}

func TestRecoverOrphansWalksBatches(t *testing.T) {
	store := &fakeFactStore{orphans: []Extraction{orphanRow("e1"), orphanRow("e2"), orphanRow("e3")}}
	p := newTestPipeline(store, &fakeDocEmbedder{enabled: true}, &fakeVectorIndex{}, &fakeAlertSink{})

	recovered, failed, err := p.RecoverOrphans(context.Background(), "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, recovered)
	assert.Zero(t, failed)
	assert.Len(t, store.flipped, 2)
}

func TestRecoverOrphansEmbedFailure(t *testing.T) {
	store := &fakeFactStore{orphans: []Extraction{orphanRow("e1"), orphanRow("e2")}}
	sink := &fakeAlertSink{}
	emb := &fakeDocEmbedder{enabled: true, err: errors.New("embedding backend down")}
	p := newTestPipeline(store, emb, &fakeVectorIndex{}, sink)

	recovered, failed, err := p.RecoverOrphans(context.Background(), "p1", 50)
	require.NoError(t, err)
	assert.Zero(t, recovered)
	assert.Equal(t, 2, failed)
	assert.Empty(t, store.flipped)
	require.Len(t, sink.recoveries, 1)
	assert.Equal(t, [2]int{0, 2}, sink.recoveries[0])
}

type fakeEntityLinker struct {
	known map[string]string
	next  int
	links [][3]string
}

func (f *fakeEntityLinker) GetOrCreate(_ context.Context, e *entities.Entity) (*entities.Entity, bool, error) {
	if id, ok := f.known[e.Value]; ok {
		out := *e
		out.ID = id
		return &out, false, nil
	}
	f.next++
	id := fmt.Sprintf("ent-%d", f.next)
	if f.known == nil {
		f.known = map[string]string{}
	}
	f.known[e.Value] = id
	out := *e
	out.ID = id
	return &out, true, nil
}

func (f *fakeEntityLinker) Link(_ context.Context, extractionID, entityID, role string) error {
	f.links = append(f.links, [3]string{extractionID, entityID, role})
	return nil
}

func TestPersistEntitiesCountsFreshCreates(t *testing.T) {
	project := &projects.Project{
		ID: "p1",
		ExtractionSchema: projects.ExtractionSchema{
			Groups: []projects.FieldGroup{{
				Name:         "products",
				IsEntityList: true,
				EntityType:   "product",
				Fields:       []projects.FieldDef{{Name: "name", Type: projects.FieldText}},
			}},
		},
	}
	source := &sources.Source{ID: "s1", SourceGroup: "acme.com"}
	results := []GroupResult{{
		GroupName:    "products",
		IsEntityList: true,
		Entities: []map[string]any{
			{"name": "Pump X", "material": "steel"},
			{"name": "Pump Y"},
		},
	}}
	rows := []*Extraction{{ID: "x1", ExtractionType: "products"}}

	linker := &fakeEntityLinker{known: map[string]string{"Pump Y": "ent-existing"}}
	p := newTestPipeline(&fakeFactStore{}, &fakeDocEmbedder{}, &fakeVectorIndex{}, &fakeAlertSink{})

	linked, created, err := p.persistEntities(context.Background(), linker, project, source, results, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, linked)
	assert.Equal(t, 1, created, "a value already on file links without a new row")
	require.Len(t, linker.links, 2)
	assert.Equal(t, [3]string{"x1", "ent-1", "extracted_from"}, linker.links[0])
	assert.Equal(t, [3]string{"x1", "ent-existing", "extracted_from"}, linker.links[1])
}
