package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/pelusa-v/duochat/internal/metrics"
)

// Task is one unit of periodic cleanup. It returns how many items it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Runner executes its tasks on a cron schedule. Runs never overlap.
type Runner struct {
	cron    string
	tasks   []Task
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

func New(cron string, log *slog.Logger, m *metrics.Metrics, tasks ...Task) (*Runner, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid housekeeping cron %q", cron)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cron: cron, tasks: tasks, log: log, metrics: m, now: time.Now}, nil
}

// Start blocks, running the tasks at every cron tick until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("housekeeping_enabled", "cron", r.cron, "tasks", len(r.tasks))
	for {
		next, err := gronx.NextTickAfter(r.cron, r.now(), false)
		if err != nil {
			r.log.Error("housekeeping_nexttick_failed", "cron", r.cron, "error", err)
			if !sleep(ctx, 30*time.Second) {
				return nil
			}
			continue
		}

		wait := next.Sub(r.now())
		if wait <= 0 {
			r.RunOnce(ctx)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		if !sleep(ctx, wait) {
			return nil
		}
		r.RunOnce(ctx)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// RunOnce runs every task once. It reports false without doing anything if a
// run is already in progress.
func (r *Runner) RunOnce(ctx context.Context) bool {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return false
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	runID := fmt.Sprintf("run-%d", r.now().UnixNano())
	r.log.Debug("housekeeping_run_start", "run_id", runID)
	var failed []error
	for _, task := range r.tasks {
		if ctx.Err() != nil {
			break
		}
		n, err := task.Run(ctx)
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", task.Name, err))
			continue
		}
		if n > 0 {
			r.log.Info("housekeeping_task_done", "run_id", runID, "task", task.Name, "removed", n)
		}
	}
	if err := errors.Join(failed...); err != nil {
		r.log.Error("housekeeping_run_error", "run_id", runID, "error", err)
	}
	r.metrics.HousekeepRuns.Inc()
	return true
}
