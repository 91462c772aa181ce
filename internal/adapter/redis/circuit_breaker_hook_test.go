package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBreakerObserver struct {
	mu     sync.Mutex
	states []string
}

func (o *recordingBreakerObserver) BreakerStateChanged(_ string, state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func failingNext(calls *int) goredis.ProcessHook {
	return func(context.Context, goredis.Cmder) error {
		*calls++
		return errors.New("connection refused")
	}
}

func TestCircuitBreakerHook_NormalOperation(t *testing.T) {
	hook := NewCircuitBreakerHook(time.Minute, nil)
	process := hook.ProcessHook(func(context.Context, goredis.Cmder) error { return nil })

	ctx := context.Background()
	for range 10 {
		require.NoError(t, process(ctx, goredis.NewStringCmd(ctx, "get", "key")))
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_NilIsNotAFailure(t *testing.T) {
	hook := NewCircuitBreakerHook(time.Minute, nil)
	process := hook.ProcessHook(func(context.Context, goredis.Cmder) error { return goredis.Nil })

	ctx := context.Background()
	for range 10 {
		err := process(ctx, goredis.NewStringCmd(ctx, "get", "missing"))
		assert.Equal(t, goredis.Nil, err)
	}

	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_OpensAfterSustainedFailures(t *testing.T) {
	obs := &recordingBreakerObserver{}
	hook := NewCircuitBreakerHook(time.Minute, obs)
	calls := 0
	process := hook.ProcessHook(failingNext(&calls))

	ctx := context.Background()
	for range 5 {
		assert.Error(t, process(ctx, goredis.NewStringCmd(ctx, "get", "key")))
	}
	require.Equal(t, circuitbreaker.OpenState, hook.State())

	err := process(ctx, goredis.NewStringCmd(ctx, "get", "key"))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 5, calls, "open breaker must not reach redis")
	assert.Contains(t, obs.states, circuitbreaker.OpenState.String())
}

func TestCircuitBreakerHook_PipelineFailsFastWhenOpen(t *testing.T) {
	hook := NewCircuitBreakerHook(time.Minute, nil)
	calls := 0
	process := hook.ProcessHook(failingNext(&calls))
	ctx := context.Background()
	for range 5 {
		_ = process(ctx, goredis.NewStringCmd(ctx, "get", "key"))
	}

	pipelineCalls := 0
	pipeline := hook.ProcessPipelineHook(func(context.Context, []goredis.Cmder) error {
		pipelineCalls++
		return nil
	})

	err := pipeline(ctx, []goredis.Cmder{goredis.NewStringCmd(ctx, "get", "key")})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Zero(t, pipelineCalls)
}
