package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aletheia-kb/aletheia/pkg/embed"
	"github.com/aletheia-kb/aletheia/pkg/vector"
)

// fakeEmbedProvider returns a deterministic 2-dimensional vector per text,
// so tests don't depend on a real embedding model.
type fakeEmbedProvider struct{}

func (fakeEmbedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func (fakeEmbedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (fakeEmbedProvider) Dimension() int    { return 2 }
func (fakeEmbedProvider) ModelName() string { return "fake-embed" }

var _ embed.Provider = fakeEmbedProvider{}

// fakeVectorStore records Upsert/DeleteBySource calls in memory. Upsert is
// called concurrently by Pipeline.upsertChunks, so access is guarded by mu.
type fakeVectorStore struct {
	mu       sync.Mutex
	upserted map[string]map[string]any
	deleted  []string
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{upserted: make(map[string]map[string]any)}
}

func (f *fakeVectorStore) Upsert(ctx context.Context, id string, vec []float32, text string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted[id] = metadata
	return nil
}
func (f *fakeVectorStore) VectorSearch(ctx context.Context, queryVec []float32, k int, filter *vector.Filter) ([]vector.Result, error) {
	return nil, nil
}
func (f *fakeVectorStore) BM25Search(ctx context.Context, queryText string, k int, filter *vector.Filter) ([]vector.Result, error) {
	return nil, nil
}
func (f *fakeVectorStore) HybridSearch(ctx context.Context, queryText string, queryVec []float32, opts vector.HybridOptions) ([]vector.Result, error) {
	return nil, nil
}
func (f *fakeVectorStore) DeleteBySource(ctx context.Context, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, source)
	for id, md := range f.upserted {
		if md["source"] == source {
			delete(f.upserted, id)
		}
	}
	return nil
}
func (f *fakeVectorStore) ResetCollection(ctx context.Context) error { return nil }
func (f *fakeVectorStore) Stats(ctx context.Context) (vector.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return vector.Stats{TotalChunks: len(f.upserted)}, nil
}
func (f *fakeVectorStore) SupportsOrFilter() bool { return false }

func (f *fakeVectorStore) deletedSources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deleted))
	copy(out, f.deleted)
	return out
}
func (f *fakeVectorStore) Close() error           { return nil }

var _ vector.Provider = (*fakeVectorStore)(nil)

func writeCorpus(t *testing.T, dir string) {
	t.Helper()
	content := "# Notes\n\nSome notes about retrieval augmented generation and embeddings.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte(content), 0o644))
}

func TestRun_IndexesAllChunksAndRecordsCheckpoint(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir)

	store := newFakeVectorStore()
	embedder := embed.New(fakeEmbedProvider{}, nil)
	checkpointPath := filepath.Join(dir, "checkpoint.json")

	pipeline := New(store, embedder, nil, checkpointPath)

	var events []Event
	stats, err := pipeline.Run(context.Background(), dir, func(e Event) { events = append(events, e) })

	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Equal(t, 0, stats.FilesFailed)
	assert.Greater(t, stats.ChunksIndexed, 0)
	assert.Equal(t, len(store.upserted), stats.ChunksIndexed)

	last := events[len(events)-1]
	assert.Equal(t, StageComplete, last.Stage)

	if _, err := os.Stat(checkpointPath); err != nil {
		t.Errorf("expected checkpoint file to be written, stat error = %v", err)
	}
}

func TestRun_SecondRunSkipsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir)

	store := newFakeVectorStore()
	embedder := embed.New(fakeEmbedProvider{}, nil)
	checkpointPath := filepath.Join(dir, "checkpoint.json")
	pipeline := New(store, embedder, nil, checkpointPath)

	_, err := pipeline.Run(context.Background(), dir, nil)
	require.NoError(t, err)

	stats, err := pipeline.Run(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesProcessed, "second run should skip the unchanged file")
}

func TestReingestFile_DeletesThenReindexes(t *testing.T) {
	dir := t.TempDir()
	writeCorpus(t, dir)
	path := filepath.Join(dir, "notes.md")

	store := newFakeVectorStore()
	embedder := embed.New(fakeEmbedProvider{}, nil)
	checkpointPath := filepath.Join(dir, "checkpoint.json")
	pipeline := New(store, embedder, nil, checkpointPath)

	_, err := pipeline.Run(context.Background(), dir, nil)
	require.NoError(t, err)
	before := len(store.upserted)
	require.Greater(t, before, 0)

	err = pipeline.ReingestFile(context.Background(), dir, path, nil)
	require.NoError(t, err)

	assert.Contains(t, store.deleted, path)
	assert.Equal(t, before, len(store.upserted), "reingest should restore the same chunk count")
}

func TestCheckpoint_ShouldSkipDetectsUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	info, err := os.Stat(path)
	require.NoError(t, err)

	cp := newCheckpoint()
	assert.False(t, cp.shouldSkip(path, info))

	cp.markComplete(path, info)
	assert.True(t, cp.shouldSkip(path, info))

	cp.forget(path)
	assert.False(t, cp.shouldSkip(path, info))
}

func TestCheckpoint_SaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	checkpointPath := filepath.Join(dir, "cp.json")

	cp := newCheckpoint()
	cp.Completed["x.md"] = fileRecord{Size: 123, ModTime: time.Now().Truncate(time.Second)}
	require.NoError(t, cp.save(checkpointPath))

	loaded := loadCheckpoint(checkpointPath)
	assert.Equal(t, cp.Completed["x.md"].Size, loaded.Completed["x.md"].Size)
}

func TestLoadCheckpoint_MissingFileReturnsFresh(t *testing.T) {
	cp := loadCheckpoint(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Empty(t, cp.Completed)
	assert.Equal(t, checkpointVersion, cp.Version)
}
