package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/robfig/cron/v3"
)

// hostJobState tracks one [cron_jobs.<name>] entry's parsed schedule and next due time.
type hostJobState struct {
	cfg      config.CronJobConfig
	schedule cron.Schedule
	nextRun  time.Time
}

// HostJobRunner implements spec.md §4.7's "Host cron jobs" path: a parallel, non-LLM loop
// that runs configured shell commands on their own cron schedule, independent of the
// scheduled-task queue.
type HostJobRunner struct {
	jobs   map[string]*hostJobState
	logger *slog.Logger
}

// NewHostJobRunner parses every enabled job's cron schedule up front so a malformed
// [cron_jobs.*] entry fails fast at startup rather than silently never firing.
func NewHostJobRunner(jobs map[string]config.CronJobConfig) (*HostJobRunner, error) {
	now := time.Now()
	states := make(map[string]*hostJobState, len(jobs))
	for name, cfg := range jobs {
		if !cfg.Enabled {
			continue
		}
		sched, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse cron schedule for host job %q: %w", name, err)
		}
		states[name] = &hostJobState{cfg: cfg, schedule: sched, nextRun: sched.Next(now)}
	}
	return &HostJobRunner{jobs: states, logger: slog.Default().With("component", "scheduler.hostjobs")}, nil
}

// Run ticks at pollInterval until ctx is cancelled, launching any job whose schedule has come
// due. Each job runs in its own goroutine so a slow job never delays another's next check.
func (r *HostJobRunner) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *HostJobRunner) tick(ctx context.Context) {
	now := time.Now()
	for name, st := range r.jobs {
		if now.Before(st.nextRun) {
			continue
		}
		st.nextRun = st.schedule.Next(now)
		go r.runJob(ctx, name, st.cfg)
	}
}

func (r *HostJobRunner) runJob(ctx context.Context, name string, cfg config.CronJobConfig) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", cfg.Command)
	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		r.logger.Error("host cron job failed", "job", name, "duration", duration, "error", err,
			"stdout_tail", tailString(stdout.String()), "stderr_tail", tailString(stderr.String()))
		return
	}
	r.logger.Info("host cron job completed", "job", name, "duration", duration, "stdout_tail", tailString(stdout.String()))
}

// tailString keeps only the trailing window of a command's output for log lines.
func tailString(s string) string {
	const maxLen = 500
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
