package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddValidatesSpecAndNames(t *testing.T) {
	s := New()
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("sweep", "@every 1s", noop))
	assert.Error(t, s.Add("sweep", "@every 1s", noop))
	assert.Error(t, s.Add("bad", "every now and then", noop))
	require.NoError(t, s.Add("off", "", noop))

	jobs := s.Jobs()
	assert.Len(t, jobs, 1)
	assert.Contains(t, jobs, "sweep")
}

func TestRunNow(t *testing.T) {
	s := New(WithJobTimeout(time.Second))
	var runs int32
	require.NoError(t, s.Add("reweight", "@daily", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		atomic.AddInt32(&runs, 1)
		return errors.New("store down")
	}))
	require.NoError(t, s.RunNow("reweight"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Error(t, s.RunNow("missing"))
}

func TestStopCancelsRunningJobs(t *testing.T) {
	s := New()
	started := make(chan struct{})
	var cancelled int32
	require.NoError(t, s.Add("slow", "@every 1s", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
	s.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
}
