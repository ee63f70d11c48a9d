package id

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID(t *testing.T) {
	t.Parallel()

	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.LessOrEqual(t, a, b, "v7 ids sort by creation time")
}

func TestNewRequestID(t *testing.T) {
	t.Parallel()

	parsed, err := uuid.Parse(NewRequestID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}
