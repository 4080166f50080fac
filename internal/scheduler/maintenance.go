package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/LifeStation/internal/store"
)

// Sweeper evicts idle in-memory state. *dialog.Router satisfies it.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// SessionSweepJob evicts sessions idle for longer than idle.
func SessionSweepJob(sweeper Sweeper, idle time.Duration) func(context.Context) {
	return func(context.Context) {
		if n := sweeper.Sweep(idle); n > 0 {
			slog.Info("Session sweep evicted idle sessions", "evicted", n, "idle", idle)
		}
	}
}

// InboundPruneJob forgets accepted event ids older than retention.
func InboundPruneJob(pruner store.Pruner, retention time.Duration) func(context.Context) {
	return func(ctx context.Context) {
		n, err := pruner.PruneInbound(ctx, time.Now().Add(-retention))
		if err != nil {
			slog.Error("Inbound prune failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Inbound prune removed event ids", "removed", n)
		}
	}
}
