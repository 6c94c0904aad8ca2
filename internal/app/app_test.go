package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krontab/internal/adapter/journal"
	"krontab/internal/config"
	"krontab/internal/platform/logger"
	"krontab/internal/shared"
)

const testJobs = `
jobs:
  - name: tick
    schedule: "* * * * *"
    shell: "echo tick"
  - name: slow
    schedule: "* * * * *"
    overlap: skip
    shell: "exec sleep 3"
  - name: parked
    schedule: "0 0 0 1 1"
    disabled: true
    http: {url: "https://example.com/hook"}
`

func testConfig(t *testing.T, jobsYAML string) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(jobsYAML), 0o600))

	var cfg config.Config
	cfg.Env = "prod"
	cfg.JobsFile = path
	cfg.Timezone = "UTC"
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.RateBurst = 1
	cfg.Journal.Driver = config.JournalMemory
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func TestNewApp_Errors(t *testing.T) {
	cfg := testConfig(t, testJobs)
	cfg.JobsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := newApp(cfg, logger.Discard())
	assert.True(t, shared.IsNotFound(err))

	cfg = testConfig(t, "jobs:\n  - name: bad\n    schedule: \"* * *\"\n    shell: \"true\"\n")
	_, err = newApp(cfg, logger.Discard())
	assert.True(t, shared.IsValidation(err))
	assert.ErrorContains(t, err, cfg.JobsFile)
}

func TestDaemon(t *testing.T) {
	a, err := newApp(testConfig(t, testJobs), logger.Discard())
	require.NoError(t, err)
	require.Len(t, a.defs, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, err := a.build(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.sched.Len(), "disabled jobs are not scheduled")

	d.sched.Start()

	require.Eventually(t, func() bool {
		runs, err := d.store.Recent(ctx, "tick", 1)
		return err == nil && len(runs) == 1 && runs[0].Status == journal.StatusSucceeded
	}, 5*time.Second, 50*time.Millisecond)

	last, err := d.store.Last(ctx, "tick")
	require.NoError(t, err)
	assert.Equal(t, "tick\n", last.Output)
	assert.Equal(t, 1, last.Attempts)

	require.Eventually(t, func() bool {
		runs, err := d.store.Recent(ctx, "slow", 10)
		if err != nil {
			return false
		}
		for _, r := range runs {
			if r.Status == journal.StatusSkipped {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "overlapping activations of slow are skipped")

	rec := httptest.NewRecorder()
	d.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Jobs []struct {
			Name     string     `json:"name"`
			Action   string     `json:"action"`
			Disabled bool       `json:"disabled"`
			Next     *time.Time `json:"next"`
		} `json:"jobs"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Count)
	assert.Equal(t, "tick", body.Jobs[0].Name)
	assert.NotNil(t, body.Jobs[0].Next)
	assert.Equal(t, "parked", body.Jobs[2].Name)
	assert.Equal(t, "http", body.Jobs[2].Action)
	assert.True(t, body.Jobs[2].Disabled)
	assert.Nil(t, body.Jobs[2].Next)

	rec = httptest.NewRecorder()
	d.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `krontab_job_runs_total{job="tick",status="succeeded"}`)
	assert.Contains(t, rec.Body.String(), "krontab_jobs_registered 2")

	assert.NoError(t, d.shutdown(5*time.Second))
	assert.False(t, d.sched.IsRunning())
}

func TestRegistry(t *testing.T) {
	a, err := newApp(testConfig(t, testJobs), logger.Discard())
	require.NoError(t, err)
	d, err := a.build(context.Background())
	require.NoError(t, err)
	defer func() { _ = d.store.Close() }()

	info, err := d.registry.Job("slow")
	require.NoError(t, err)
	assert.Equal(t, "* * * * *", info.Schedule)
	assert.Equal(t, "UTC", info.Timezone)
	assert.Equal(t, "exec sleep 3", info.Target)
	assert.Equal(t, "skip", info.Overlap)
	assert.Equal(t, 1, info.Attempts)
	require.NotNil(t, info.Next, "next is known before the scheduler starts")
	assert.Nil(t, info.Prev)

	_, err = d.registry.Job("nope")
	assert.True(t, shared.IsNotFound(err))
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := newApp(testConfig(t, "jobs:\n  - name: tick\n    schedule: \"* * * * *\"\n    shell: \"true\"\n"), logger.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
