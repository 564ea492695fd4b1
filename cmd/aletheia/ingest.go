package main

import (
	"fmt"

	"github.com/aletheia-kb/aletheia/pkg/ingest"
)

// IngestCmd runs a one-shot ingestion of a Markdown corpus.
type IngestCmd struct {
	Corpus string `help:"Path to the Markdown corpus root. Defaults to ALETHEIA_CORPUS_ROOT." type:"path"`
	Watch  bool   `help:"Keep running and re-ingest files as they change."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx, cancel := withSignalCancel()
	defer cancel()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	ingestCfg, err := d.cfg.Ingest()
	if err != nil {
		return fmt.Errorf("loading ingest config: %w", err)
	}

	root := c.Corpus
	if root == "" {
		root = ingestCfg.CorpusRoot
	}

	pipeline := ingest.New(d.vectorStore, d.embedder, d.graphBuild, ingestCfg.CheckpointPath)

	stats, err := pipeline.Run(ctx, root, func(ev ingest.Event) {
		line := fmt.Sprintf("\r\033[K[%s] %d/%d files, %d/%d chunks", ev.Stage, ev.FilesProcessed, ev.TotalFiles, ev.ChunksProcessed, ev.TotalChunks)
		if ev.Rate > 0 {
			line += fmt.Sprintf(", %.1f/s", ev.Rate)
		}
		if ev.ETA > 0 {
			line += fmt.Sprintf(", ETA %s", ingest.FormatDuration(ev.ETA))
		}
		fmt.Print(line + ": " + ev.Message)
	})
	fmt.Println()
	d.metrics.RecordIngestRun(stats.Elapsed, stats.ChunksIndexed, err)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	overallRate := float64(0)
	if stats.Elapsed.Seconds() > 0 {
		overallRate = float64(stats.ChunksIndexed) / stats.Elapsed.Seconds()
	}
	fmt.Printf("ingested %d files (%d failed), %d chunks indexed in %s (%.1f chunks/s)\n",
		stats.FilesProcessed, stats.FilesFailed, stats.ChunksIndexed, ingest.FormatDuration(stats.Elapsed), overallRate)

	if !c.Watch {
		return nil
	}

	watcher, err := ingest.NewWatcher(pipeline, root)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	watcher.Start(ctx)
	<-ctx.Done()
	return watcher.Stop()
}
