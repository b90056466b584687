package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestHostJobRunnerRejectsBadCronExpression(t *testing.T) {
	_, err := NewHostJobRunner(map[string]config.CronJobConfig{
		"broken": {Schedule: "not a cron expr", Command: "true", Enabled: true},
	})
	require.Error(t, err)
}

func TestHostJobRunnerIgnoresDisabledJobs(t *testing.T) {
	r, err := NewHostJobRunner(map[string]config.CronJobConfig{
		"off": {Schedule: "not a cron expr", Command: "true", Enabled: false},
	})
	require.NoError(t, err)
	require.Empty(t, r.jobs)
}

func TestHostJobRunnerTickReturnsWithDueJob(t *testing.T) {
	r, err := NewHostJobRunner(map[string]config.CronJobConfig{
		"every-minute": {Schedule: "* * * * *", Command: "echo hi", Enabled: true, TimeoutSeconds: 5},
	})
	require.NoError(t, err)

	// Force the job's next-run into the past so the very first tick fires it.
	for _, st := range r.jobs {
		st.nextRun = time.Now().Add(-time.Second)
	}

	done := make(chan struct{})
	go func() {
		r.tick(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick did not return")
	}
}
