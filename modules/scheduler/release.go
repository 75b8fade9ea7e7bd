package scheduler

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/Deepreo/jobscheduler/core"
)

// releaseJobs calls Release once per distinct job value. Failures are logged;
// they never stop the remaining releases.
func releaseJobs(ctx context.Context, logger *slog.Logger, jobs []core.JobConfiguration) {
	seen := make(map[core.Releaser]struct{}, len(jobs))
	for _, cfg := range jobs {
		r, ok := cfg.Job.(core.Releaser)
		if !ok {
			continue
		}
		if !firstSighting(seen, r) {
			continue
		}
		release(ctx, logger, cfg.Name, r)
	}
}

// firstSighting dedupes comparable job values. Values that cannot be map
// keys are always treated as distinct.
func firstSighting(seen map[core.Releaser]struct{}, r core.Releaser) (first bool) {
	if !reflect.TypeOf(r).Comparable() {
		return true
	}
	defer func() {
		if recover() != nil {
			first = true
		}
	}()
	if _, dup := seen[r]; dup {
		return false
	}
	seen[r] = struct{}{}
	return true
}

func release(ctx context.Context, logger *slog.Logger, name string, r core.Releaser) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("scheduler: release hook panicked", "job", name, "panic", p)
		}
	}()
	if err := r.Release(ctx); err != nil {
		logger.Error("scheduler: release hook failed", "job", name, "error", err)
		return
	}
	logger.Debug("scheduler: job released", "job", name)
}
