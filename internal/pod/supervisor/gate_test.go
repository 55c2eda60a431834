package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnGate_Unbounded(t *testing.T) {
	gate, err := newSpawnGate(0)
	require.NoError(t, err)
	assert.Nil(t, gate)

	release, err := gate.acquire(context.Background())
	require.NoError(t, err)
	release()

	assert.Zero(t, gate.loading())
	gate.close()
}

func TestSpawnGate_LimitsTokens(t *testing.T) {
	gate, err := newSpawnGate(2)
	require.NoError(t, err)
	defer gate.close()

	first, err := gate.acquire(context.Background())
	require.NoError(t, err)

	second, err := gate.acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, gate.loading())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = gate.acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	first()
	assert.Equal(t, 1, gate.loading())

	third, err := gate.acquire(context.Background())
	require.NoError(t, err)

	second()
	third()
	assert.Zero(t, gate.loading())
}
