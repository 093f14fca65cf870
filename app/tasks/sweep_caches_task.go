package tasks

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"
)

// SweepCachesTask drops expired entries from in-process caches. Each sweeper
// returns how many entries it removed.
type SweepCachesTask struct {
	Task
	sweepers map[string]func() int
}

func NewSweepCachesTask(sweepers map[string]func() int) *SweepCachesTask {
	return &SweepCachesTask{
		Task:     NewTask(TaskTypeSweepCaches, time.Time{}),
		sweepers: sweepers,
	}
}

func (t *SweepCachesTask) Execute(ctx context.Context) error {
	total := 0
	for _, name := range slices.Sorted(maps.Keys(t.sweepers)) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		removed := t.sweepers[name]()
		if removed > 0 {
			slog.Debug("Cache swept", "cache", name, "removed", removed)
		}
		total += removed
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"removed", total)

	return nil
}
