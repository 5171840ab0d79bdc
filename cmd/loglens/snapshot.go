package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/piqnyx/loglens/internal/snapshot"
)

// loadSnapshotIfPresent restores engine state from path if it exists. A
// missing file just means a fresh start, not an error.
func loadSnapshotIfPresent(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		appCtx.StdoutLogger.Printf("Snapshot file %s not found — starting fresh", path)
		return nil
	}

	state, err := snapshot.Load(path)
	if err != nil {
		appCtx.StdoutLogger.Printf("Snapshot parse error: %v — starting fresh", err)
		return nil
	}
	if err := appCtx.Engine.RestoreFrom(state); err != nil {
		return err
	}
	appCtx.StdoutLogger.Printf("Restored snapshot from %s (seen_lines=%d)", path, state.SeenLines)
	return nil
}

// saveSnapshot writes the engine's current state to path, using
// internal/snapshot's atomic temp-file-then-rename save. Called from
// runApp's own select loop (autosave tick) and from shutdownApp after
// runApp has returned (final save), so it never races with the engine's
// in-flight ScoreAndObserve calls.
func saveSnapshot(path string) error {
	if !appCtx.snapshotChanged {
		return nil
	}

	state := appCtx.Engine.SnapshotState()
	if err := snapshot.Save(path, state); err != nil {
		return err
	}

	appCtx.snapshotChanged = false
	return nil
}

func parseQuantiles(csv string) ([]float64, error) {
	parts := strings.Split(csv, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid quantile %q: %w", p, err)
		}
		if v <= 0 || v >= 1 {
			return nil, fmt.Errorf("quantile %v must be in (0,1)", v)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no quantiles given")
	}
	return out, nil
}
