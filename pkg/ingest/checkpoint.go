package ingest

import (
	"encoding/json"
	"os"
	"time"
)

// checkpointVersion guards against loading a checkpoint written by an
// incompatible future format.
const checkpointVersion = "1"

// fileRecord is what the checkpoint remembers about one fully-ingested
// file: its size and modification time at the time it was processed, used
// to detect whether it has changed since.
type fileRecord struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// checkpoint persists the set of source files that have completed every
// pipeline step (parse through graph extraction), so a rerun after an
// interruption skips unchanged files instead of reprocessing the whole
// corpus.
type checkpoint struct {
	Version   string                `json:"version"`
	Completed map[string]fileRecord `json:"completed"`
}

func newCheckpoint() *checkpoint {
	return &checkpoint{Version: checkpointVersion, Completed: make(map[string]fileRecord)}
}

// loadCheckpoint reads path, returning a fresh checkpoint if the file is
// absent, unreadable, or from an incompatible version — a corrupt
// checkpoint degrades to "process everything" rather than failing the run.
func loadCheckpoint(path string) *checkpoint {
	data, err := os.ReadFile(path)
	if err != nil {
		return newCheckpoint()
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil || cp.Version != checkpointVersion {
		return newCheckpoint()
	}
	if cp.Completed == nil {
		cp.Completed = make(map[string]fileRecord)
	}
	return &cp
}

func (cp *checkpoint) save(path string) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// shouldSkip reports whether path was already fully ingested at its
// current size and modification time.
func (cp *checkpoint) shouldSkip(path string, info os.FileInfo) bool {
	record, ok := cp.Completed[path]
	if !ok {
		return false
	}
	return record.Size == info.Size() && record.ModTime.Equal(info.ModTime())
}

func (cp *checkpoint) markComplete(path string, info os.FileInfo) {
	cp.Completed[path] = fileRecord{Size: info.Size(), ModTime: info.ModTime()}
}

func (cp *checkpoint) forget(path string) {
	delete(cp.Completed, path)
}
