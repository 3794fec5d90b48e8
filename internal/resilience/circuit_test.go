package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuit_OpensAfterThreshold(t *testing.T) {
	c := NewCircuit(CircuitConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	fail := func(ctx context.Context) (int, error) { return 0, eris.New("boom") }

	for i := 0; i < 3; i++ {
		_, err := Call(ctx, c, fail)
		require.Error(t, err)
		assert.False(t, eris.Is(err, ErrCircuitOpen))
	}

	_, err := Call(ctx, c, fail)
	assert.True(t, eris.Is(err, ErrCircuitOpen))
	assert.Equal(t, CircuitOpen, c.State())
}

func TestCircuit_SuccessResetsFailureCount(t *testing.T) {
	c := NewCircuit(CircuitConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	_, err := Call(ctx, c, func(ctx context.Context) (int, error) { return 0, eris.New("boom") })
	require.Error(t, err)

	val, err := Call(ctx, c, func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, val)

	// One more failure should not open the circuit — counter was reset.
	_, err = Call(ctx, c, func(ctx context.Context) (int, error) { return 0, eris.New("boom") })
	require.Error(t, err)
	assert.Equal(t, CircuitClosed, c.State())
}

func TestCircuit_HalfOpenProbe(t *testing.T) {
	c := NewCircuit(CircuitConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	now := time.Now()
	c.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_, err := Call(ctx, c, func(ctx context.Context) (int, error) { return 0, eris.New("boom") })
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, c.State())

	// Advance past the reset timeout; the probe is allowed through.
	now = now.Add(20 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, c.State())

	val, err := Call(ctx, c, func(ctx context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, val)
	assert.Equal(t, CircuitClosed, c.State())
}

func TestCircuit_FailedProbeReopens(t *testing.T) {
	c := NewCircuit(CircuitConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	now := time.Now()
	c.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_, _ = Call(ctx, c, func(ctx context.Context) (int, error) { return 0, eris.New("boom") })
	now = now.Add(20 * time.Millisecond)

	_, err := Call(ctx, c, func(ctx context.Context) (int, error) { return 0, eris.New("still down") })
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, c.State())
}
