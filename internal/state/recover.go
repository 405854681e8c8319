package state

import (
	"context"
	"fmt"
	"os"
	"time"

	"trading/internal/cache"
)

// RecoverConfig controls cache recovery at startup.
type RecoverConfig struct {
	// SnapshotPath is the snapshot written at the end of the previous
	// session. Empty or missing skips the comparison.
	SnapshotPath string
}

// RecoverResult contains recovered state and metadata.
type RecoverResult struct {
	Snapshot Snapshot
	Reducer  *NetReducer
	Compared bool
}

// Recover rebuilds c from its persistence backend and checks the result
// against the last snapshot. The returned reducer is seeded with the
// recovered positions so it can keep tallying the new session.
func Recover(ctx context.Context, c *cache.Cache, cfg RecoverConfig) (RecoverResult, error) {
	if err := c.Build(ctx); err != nil {
		return RecoverResult{}, err
	}

	current := Capture(c, time.Now())
	reducer := NewNetReducer()
	reducer.ApplySnapshot(current)
	result := RecoverResult{Snapshot: current, Reducer: reducer}

	if cfg.SnapshotPath == "" {
		return result, nil
	}
	prev, err := ReadSnapshot(cfg.SnapshotPath)
	if os.IsNotExist(err) {
		return result, nil
	}
	if err != nil {
		return RecoverResult{}, err
	}
	if prev.TraderID != c.TraderID() {
		return RecoverResult{}, fmt.Errorf("snapshot trader %s does not match cache trader %s", prev.TraderID, c.TraderID())
	}
	if err := CompareSnapshots(prev, current); err != nil {
		return RecoverResult{}, fmt.Errorf("recovered cache diverges from snapshot: %w", err)
	}
	result.Compared = true
	return result, nil
}
