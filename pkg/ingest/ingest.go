// Package ingest runs the corpus ingestion pipeline: discover Markdown
// files, parse and chunk them, embed and upsert the chunks, then extract
// and merge each document's entities and relations into the knowledge
// graph. Progress is reported incrementally so a caller can drive a
// terminal bar or a server-sent-events stream.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aletheia-kb/aletheia/pkg/apperr"
	"github.com/aletheia-kb/aletheia/pkg/chunk"
	"github.com/aletheia-kb/aletheia/pkg/document"
	"github.com/aletheia-kb/aletheia/pkg/embed"
	"github.com/aletheia-kb/aletheia/pkg/graphbuild"
	"github.com/aletheia-kb/aletheia/pkg/vector"
)

// upsertConcurrency bounds how many chunks are upserted to the vector
// store at once, so a large corpus doesn't open thousands of simultaneous
// connections to a remote store.
const upsertConcurrency = 8

// Stage identifies the current step of a Run for progress reporting.
type Stage string

const (
	StageReading   Stage = "reading"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageStoring   Stage = "storing"
	StageComplete  Stage = "complete"
)

// graphExtractionThrottle is the minimum interval between two documents'
// graph-extraction LLM calls, protecting the endpoint from a burst at the
// start of a large ingestion run.
const graphExtractionThrottle = 1 * time.Second

// Event is one progress update emitted during Run.
type Event struct {
	Stage           Stage
	FilesProcessed  int
	TotalFiles      int
	ChunksProcessed int
	TotalChunks     int
	Message         string

	// Elapsed is time since the run started. Rate is the current
	// throughput (docs/sec while reading, chunks/sec while embedding or
	// storing) and ETA is the estimated remaining time for the stage's
	// denominator, both derived the same way as the teacher's indexing
	// progress tracker: throughput = done/elapsed, eta = remaining/throughput.
	// Both are zero until enough of the run has elapsed to estimate them.
	Elapsed time.Duration
	Rate    float64
	ETA     time.Duration
}

// rateAndETA computes throughput (done per second of elapsed) and the
// estimated remaining time to process total-done more items at that
// rate. It returns zeros until there's enough signal to estimate from.
func rateAndETA(done, total int, elapsed time.Duration) (rate float64, eta time.Duration) {
	if done <= 0 || elapsed.Seconds() <= 0 {
		return 0, 0
	}
	rate = float64(done) / elapsed.Seconds()
	remaining := total - done
	if remaining <= 0 || rate <= 0 {
		return rate, 0
	}
	return rate, time.Duration(float64(remaining) / rate * float64(time.Second))
}

// Stats summarizes a completed run.
type Stats struct {
	FilesProcessed int
	FilesFailed    int
	ChunksIndexed  int
	Elapsed        time.Duration
}

// Pipeline wires the document/chunk/embed/vector/graph packages together
// into the ingestion pipeline. graphBuilder may be nil, in which case
// entity/relation extraction is skipped entirely — useful for a
// vector-only corpus or when no graph store is configured.
type Pipeline struct {
	vectorStore    vector.Provider
	embedder       *embed.Client
	graphBuilder   *graphbuild.Builder
	checkpointPath string
	chunkConfig    chunk.Config
}

// New builds a Pipeline. checkpointPath is where resume state is
// persisted between runs.
func New(vectorStore vector.Provider, embedder *embed.Client, graphBuilder *graphbuild.Builder, checkpointPath string) *Pipeline {
	return &Pipeline{
		vectorStore:    vectorStore,
		embedder:       embedder,
		graphBuilder:   graphBuilder,
		checkpointPath: checkpointPath,
		chunkConfig:    chunk.DefaultConfig(),
	}
}

type parsedFile struct {
	path string
	info os.FileInfo
	doc  *document.Document
}

// Run executes the full pipeline against the corpus at root, emitting an
// Event after every meaningful step of progress. Per-file parse failures
// and per-document graph-extraction failures are logged and skipped;
// embedding or storage failures abort the run, since a partially-embedded
// corpus is worse than no corpus.
func (p *Pipeline) Run(ctx context.Context, root string, progress func(Event)) (Stats, error) {
	start := time.Now()
	emit := func(e Event) {
		e.Elapsed = time.Since(start)
		done, total := e.ChunksProcessed, e.TotalChunks
		if total == 0 {
			done, total = e.FilesProcessed, e.TotalFiles
		}
		e.Rate, e.ETA = rateAndETA(done, total, e.Elapsed)
		if progress != nil {
			progress(e)
		}
	}

	cp := loadCheckpoint(p.checkpointPath)

	emit(Event{Stage: StageReading, Message: "discovering corpus"})
	paths, err := document.Discover(root)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	var parsed []parsedFile

	for i, path := range paths {
		info, statErr := os.Stat(path)
		if statErr != nil {
			slog.Warn("failed to stat file, skipping", "path", path, "error", statErr)
			stats.FilesFailed++
			continue
		}
		if cp.shouldSkip(path, info) {
			emit(Event{Stage: StageReading, FilesProcessed: i + 1, TotalFiles: len(paths), Message: "unchanged since last run, skipping " + path})
			continue
		}

		relPath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			relPath = path
		}
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			slog.Warn("failed to read file, skipping", "path", path, "error", readErr)
			stats.FilesFailed++
			continue
		}

		doc, parseErr := document.Parse(path, relPath, raw)
		if parseErr != nil {
			slog.Warn("failed to parse file, skipping", "path", path, "error", parseErr)
			stats.FilesFailed++
			continue
		}

		parsed = append(parsed, parsedFile{path: path, info: info, doc: doc})
		stats.FilesProcessed++
		emit(Event{Stage: StageReading, FilesProcessed: i + 1, TotalFiles: len(paths), Message: "parsed " + path})
	}

	emit(Event{Stage: StageChunking, FilesProcessed: stats.FilesProcessed, TotalFiles: len(paths), Message: "chunking documents"})
	var chunks []chunk.Chunk
	for _, pf := range parsed {
		chunks = append(chunks, chunk.Chunk(pf.doc, p.chunkConfig)...)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	emit(Event{Stage: StageEmbedding, ChunksProcessed: 0, TotalChunks: len(chunks), Message: "generating embeddings"})
	vectors, err := p.embedder.EmbedDocuments(ctx, texts, func(done, total int) {
		emit(Event{Stage: StageEmbedding, ChunksProcessed: done, TotalChunks: total, Message: "embedding chunks"})
	})
	if err != nil {
		return stats, err
	}

	indexed, err := p.upsertChunks(ctx, chunks, vectors, func(done, total int) {
		emit(Event{Stage: StageStoring, ChunksProcessed: done, TotalChunks: total, Message: "storing chunks"})
	})
	stats.ChunksIndexed = indexed
	if err != nil {
		return stats, err
	}

	var lastExtraction time.Time
	for i, pf := range parsed {
		if p.graphBuilder != nil {
			if since := time.Since(lastExtraction); i > 0 && since < graphExtractionThrottle {
				time.Sleep(graphExtractionThrottle - since)
			}
			if err := p.graphBuilder.ExtractAndMerge(ctx, pf.doc); err != nil {
				slog.Warn("graph extraction failed for document", "path", pf.path, "error", err)
			}
			lastExtraction = time.Now()
		}

		cp.markComplete(pf.path, pf.info)
		if err := cp.save(p.checkpointPath); err != nil {
			slog.Warn("failed to save ingestion checkpoint", "error", err)
		}
		emit(Event{Stage: StageStoring, FilesProcessed: i + 1, TotalFiles: len(parsed), Message: "merged graph for " + pf.path})
	}

	stats.Elapsed = time.Since(start)
	emit(Event{Stage: StageComplete, FilesProcessed: stats.FilesProcessed, TotalFiles: len(paths), ChunksProcessed: stats.ChunksIndexed, TotalChunks: len(chunks), Message: "ingestion complete"})

	return stats, nil
}

// upsertChunks writes every (chunk, vector) pair with bounded concurrency,
// invoking progress after each completion. It returns the number of
// chunks successfully indexed before the first error, if any.
func (p *Pipeline) upsertChunks(ctx context.Context, chunks []chunk.Chunk, vectors [][]float32, progress func(done, total int)) (int, error) {
	var indexed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(upsertConcurrency)

	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			metadata := map[string]any{
				"source":          c.Source,
				"section_heading": c.SectionHeading,
				"chunk_index":     c.ChunkIndex,
				"total_chunks":    c.TotalChunks,
				"type":            string(c.Type),
				"tags":            c.Tags,
			}
			if err := p.vectorStore.Upsert(gctx, c.ID, vectors[i], c.Text, metadata); err != nil {
				return apperr.RemoteUnavailable("ingest", "upsertChunks", err)
			}
			done := atomic.AddInt64(&indexed, 1)
			if progress != nil {
				progress(int(done), len(chunks))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(atomic.LoadInt64(&indexed)), err
	}
	return int(atomic.LoadInt64(&indexed)), nil
}

// ReingestFile re-runs the pipeline for a single file: delete every chunk
// with this source from the vector store, then parse, chunk, embed,
// upsert, and graph-extract it fresh. Used for single-file updates without
// rescanning the whole corpus.
func (p *Pipeline) ReingestFile(ctx context.Context, root, path string, progress func(Event)) error {
	start := time.Now()
	emit := func(e Event) {
		e.Elapsed = time.Since(start)
		done, total := e.ChunksProcessed, e.TotalChunks
		if total == 0 {
			done, total = e.FilesProcessed, e.TotalFiles
		}
		e.Rate, e.ETA = rateAndETA(done, total, e.Elapsed)
		if progress != nil {
			progress(e)
		}
	}

	if err := p.vectorStore.DeleteBySource(ctx, path); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return apperr.New(apperr.KindRemoteUnavailable, "ingest", "ReingestFile", "failed to stat file", err)
	}
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		relPath = path
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return apperr.New(apperr.KindRemoteUnavailable, "ingest", "ReingestFile", "failed to read file", err)
	}

	doc, err := document.Parse(path, relPath, raw)
	if err != nil {
		return err
	}

	emit(Event{Stage: StageChunking, FilesProcessed: 0, TotalFiles: 1, Message: "chunking " + path})
	chunks := chunk.Chunk(doc, p.chunkConfig)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	emit(Event{Stage: StageEmbedding, TotalChunks: len(chunks), Message: "embedding " + path})
	vectors, err := p.embedder.EmbedDocuments(ctx, texts, func(done, total int) {
		emit(Event{Stage: StageEmbedding, ChunksProcessed: done, TotalChunks: total, Message: "embedding chunks"})
	})
	if err != nil {
		return err
	}

	if _, err := p.upsertChunks(ctx, chunks, vectors, func(done, total int) {
		emit(Event{Stage: StageStoring, ChunksProcessed: done, TotalChunks: total, Message: "storing " + path})
	}); err != nil {
		return err
	}
	emit(Event{Stage: StageStoring, FilesProcessed: 1, TotalFiles: 1, ChunksProcessed: len(chunks), TotalChunks: len(chunks), Message: "stored " + path})

	if p.graphBuilder != nil {
		if err := p.graphBuilder.ExtractAndMerge(ctx, doc); err != nil {
			slog.Warn("graph extraction failed for document", "path", path, "error", err)
		}
	}

	cp := loadCheckpoint(p.checkpointPath)
	cp.markComplete(path, info)
	if err := cp.save(p.checkpointPath); err != nil {
		slog.Warn("failed to save ingestion checkpoint", "error", err)
	}

	emit(Event{Stage: StageComplete, FilesProcessed: 1, TotalFiles: 1, ChunksProcessed: len(chunks), TotalChunks: len(chunks), Message: "re-ingestion complete for " + path})
	return nil
}
