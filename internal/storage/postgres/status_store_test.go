package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/training-status/internal/progress"
)

func statusSnapshot() progress.Snapshot {
	psnr, ssim := 28.5, 0.85
	return progress.Snapshot{
		CurrentIteration:   1500,
		TotalIterations:    10000,
		ProgressPercentage: 15,
		ElapsedSeconds:     42,
		LastEvalPSNR:       &psnr,
		LastEvalSSIM:       &ssim,
		ExportPath:         "./output",
		Phase:              progress.PhaseTraining,
		LastUpdated:        time.Unix(1700000000, 0).UTC(),
	}
}

func TestStatusStorePublishUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStatusStoreWithPool(mock, "", "run-1")
	require.NoError(t, err)

	snap := statusSnapshot()
	doc, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO training_status").
		WithArgs("run-1", "training", int64(1500), int64(10000), 15.0, doc, snap.LastUpdated).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Publish(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusStorePublishWrapsExecErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStatusStoreWithPool(mock, "custom_status", "run-2")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO custom_status").WillReturnError(errors.New("connection refused"))
	err = store.Publish(context.Background(), statusSnapshot())
	require.ErrorContains(t, err, "upsert status row")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusStoreEncodeFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStatusStoreWithPool(mock, "", "run-3")
	require.NoError(t, err)
	snap := statusSnapshot()
	snap.ElapsedSeconds = math.Inf(1)
	require.ErrorIs(t, store.Publish(context.Background(), snap), progress.ErrEncode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStatusStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewStatusStoreWithPool(nil, "", "run")
	assert.Error(t, err)
	_, err = NewStatusStoreWithPool(mock, "", "")
	assert.Error(t, err)
	_, err = NewStatusStoreWithPool(mock, "bad;table", "run")
	assert.Error(t, err)
}

func TestNewStatusStoreRequiresDSN(t *testing.T) {
	t.Parallel()
	_, err := NewStatusStore(context.Background(), StatusStoreConfig{RunID: "run"})
	assert.Error(t, err)
}

func TestStatusStoreCloseClosesPool(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	mock.ExpectClose()

	store, err := NewStatusStoreWithPool(mock, "", "run")
	require.NoError(t, err)
	require.NoError(t, store.Close(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
