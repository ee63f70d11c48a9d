package monitor

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/training-status/internal/progress"
)

func TestBarRendererTracksIteration(t *testing.T) {
	t.Parallel()

	r := NewBarRenderer(io.Discard)
	assert.Zero(t, r.Current())
	require.NoError(t, r.Finish())

	require.NoError(t, r.Render(sampleSnapshot(0, progress.PhaseStarting)))
	require.NoError(t, r.Render(sampleSnapshot(2500, progress.PhaseTraining)))
	assert.Equal(t, int64(2500), r.Current())

	snap := sampleSnapshot(5000, progress.PhaseEvaluating)
	snap.LastEvalPSNR = ptr(30.25)
	require.NoError(t, r.Render(snap))
	assert.Equal(t, int64(5000), r.Current())
	require.NoError(t, r.Finish())
}

func TestBarRendererWritesDescription(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewBarRenderer(&buf)
	snap := sampleSnapshot(100, progress.PhaseTraining)
	snap.LastEvalPSNR = ptr(27.5)
	require.NoError(t, r.Render(snap))
	require.NoError(t, r.Finish())

	assert.Contains(t, buf.String(), "psnr 27.50")
	assert.Contains(t, buf.String(), "100/10000")
}
