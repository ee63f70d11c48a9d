package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/training-status/internal/app"
	"github.com/JakeFAU/training-status/internal/config"
	"github.com/JakeFAU/training-status/internal/monitor"
	"github.com/JakeFAU/training-status/internal/progress"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Status.ExportDir = t.TempDir()
	cfg.Training.TotalIterations = 40
	cfg.Status.Cadence = 10
	return cfg
}

func TestAppDisabled(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotEmpty(t, a.RunID())
	assert.Empty(t, a.StatusPath())
	assert.Nil(t, a.Server())

	tracker, err := a.NewTracker()
	require.NoError(t, err)
	assert.Nil(t, tracker)
	require.NoError(t, tracker.Begin())
	assert.Zero(t, a.Dropped())
	require.NoError(t, a.Close(context.Background()))
}

func TestAppPublishesStatusFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Status.Enabled = true
	cfg.Status.LogSnapshots = true
	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotEmpty(t, a.StatusPath())

	tracker, err := a.NewTracker()
	require.NoError(t, err)
	require.NotNil(t, tracker)
	require.NoError(t, tracker.Begin())
	for i := uint64(1); i <= 40; i++ {
		require.NoError(t, tracker.Step(i))
	}
	require.NoError(t, tracker.Complete(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	snap, err := monitor.ReadFile(a.StatusPath())
	require.NoError(t, err)
	assert.Equal(t, progress.PhaseCompleted, snap.Phase)
	assert.Equal(t, cfg.Status.ExportDir, snap.ExportPath)
}

func TestAppServesMetrics(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Status.Enabled = true
	cfg.Metrics.Enabled = true
	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	tracker, err := a.NewTracker()
	require.NoError(t, err)
	require.NoError(t, tracker.Begin())
	require.NoError(t, tracker.Step(20))
	require.NoError(t, tracker.Complete(context.Background()))

	srv := a.Server()
	require.NotNil(t, srv)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "training_current_iteration 40")
	assert.Contains(t, rec.Body.String(), `status_publishes_total{result="success"}`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), a.RunID())
}

func TestAppRejectsUnwritableExportDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Status.Enabled = true
	cfg.Status.ExportDir = "/dev/null/out"
	_, err := app.New(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestAppRejectsBadPostgresMirror(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Status.Enabled = true
	cfg.Sinks.Postgres.DSN = "postgres://user@localhost:notaport/db"
	_, err := app.New(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres mirror")
}
