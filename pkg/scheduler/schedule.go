package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
	"github.com/robfig/cron/v3"
)

// ResolveTimezone implements spec.md's `[scheduler] timezone` resolution: an explicit IANA
// zone name wins; an empty or "auto" value auto-detects via $TZ, then the /etc/localtime
// zoneinfo symlink, falling back to UTC if neither resolves.
func ResolveTimezone(tz string) *time.Location {
	if tz != "" && !strings.EqualFold(tz, "auto") {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
		return time.UTC
	}

	if envTZ := os.Getenv("TZ"); envTZ != "" {
		if loc, err := time.LoadLocation(envTZ); err == nil {
			return loc
		}
	}

	if name, ok := zoneNameFromLocaltime(); ok {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}

	return time.UTC
}

// zoneNameFromLocaltime reads /etc/localtime's symlink target (e.g.
// /usr/share/zoneinfo/America/New_York) and extracts the trailing "Area/City" zone name.
func zoneNameFromLocaltime() (string, bool) {
	target, err := os.Readlink("/etc/localtime")
	if err != nil {
		return "", false
	}
	const marker = "zoneinfo/"
	idx := strings.Index(target, marker)
	if idx < 0 {
		return "", false
	}
	name := filepath.ToSlash(target[idx+len(marker):])
	if name == "" {
		return "", false
	}
	return name, true
}

// ComputeNextRun advances a task's schedule past after, in loc. done reports that the task
// has no further occurrences (ScheduleOnce) and should transition to TaskCompleted.
func ComputeNextRun(t models.ScheduledTask, after time.Time, loc *time.Location) (next time.Time, done bool, err error) {
	switch t.ScheduleType {
	case models.ScheduleOnce:
		return time.Time{}, true, nil

	case models.ScheduleInterval:
		d, err := time.ParseDuration(t.ScheduleValue)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("scheduler: parse interval %q for task %s: %w", t.ScheduleValue, t.ID, err)
		}
		if d <= 0 {
			return time.Time{}, false, fmt.Errorf("scheduler: non-positive interval %q for task %s", t.ScheduleValue, t.ID)
		}
		return after.Add(d), false, nil

	case models.ScheduleCron:
		sched, err := cron.ParseStandard(t.ScheduleValue)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("scheduler: parse cron %q for task %s: %w", t.ScheduleValue, t.ID, err)
		}
		return sched.Next(after.In(loc)), false, nil

	default:
		return time.Time{}, false, fmt.Errorf("scheduler: unknown schedule type %q for task %s", t.ScheduleType, t.ID)
	}
}

// truncateResult caps a run's persisted summary at 200 characters, per spec.md §4.7 step 5.
func truncateResult(s string) string {
	const maxLen = 200
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
