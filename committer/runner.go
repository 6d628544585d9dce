package committer

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

type Runner interface {
	Run(ctx context.Context) error
}

// Health tracks whether the last invocation of each loop succeeded.
type Health struct {
	mu     sync.RWMutex
	status map[string]bool
}

func NewHealth() *Health {
	return &Health{status: make(map[string]bool)}
}

func (h *Health) Set(name string, healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[name] = healthy
}

// Report returns the overall state together with the unhealthy loop names.
func (h *Health) Report() (bool, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var failing []string
	for name, healthy := range h.status {
		if !healthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	return len(failing) == 0, failing
}

// RunPeriodically invokes runner once per interval until ctx is done. Errors are
// logged and the runner is invoked again on the next tick.
func RunPeriodically(ctx context.Context, name string, runner Runner, interval time.Duration, health *Health, lggr *zap.SugaredLogger) {
	lggr = named(lggr, name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		invoke(ctx, name, runner, health, lggr)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunContinuously invokes a long-running runner again after it returns, waiting
// restartDelay in between, until ctx is done.
func RunContinuously(ctx context.Context, name string, runner Runner, restartDelay time.Duration, health *Health, lggr *zap.SugaredLogger) {
	lggr = named(lggr, name)
	for {
		invoke(ctx, name, runner, health, lggr)
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func invoke(ctx context.Context, name string, runner Runner, health *Health, lggr *zap.SugaredLogger) {
	err := runner.Run(ctx)
	if health != nil {
		health.Set(name, err == nil)
	}
	if err != nil && ctx.Err() == nil {
		lggr.Errorw("Runner failed", "error", err, "kind", checkpoint.KindOf(err).String())
	}
}

func named(lggr *zap.SugaredLogger, name string) *zap.SugaredLogger {
	if lggr == nil {
		return zap.NewNop().Sugar()
	}
	return lggr.Named(name)
}
