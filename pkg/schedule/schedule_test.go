package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/errors"
)

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Schedule: "0 * * * *"})
	require.Error(t, err)

	_, err = New(Config{
		Schedule:  "not cron",
		OnTrigger: func(ctx context.Context) error { return nil },
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	s, err := New(Config{
		Schedule:  "*/5 * * * *",
		OnTrigger: func(ctx context.Context) error { return nil },
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestTickSkipsWhileRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var invocations int32

	s, err := New(Config{
		Schedule: "* * * * *",
		OnTrigger: func(ctx context.Context) error {
			if atomic.AddInt32(&invocations, 1) == 1 {
				close(entered)
				<-release
			}
			return nil
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tick()
	}()
	<-entered

	// Overlapping ticks are skipped, never queued.
	s.tick()
	s.tick()
	assert.Equal(t, int32(1), atomic.LoadInt32(&invocations))

	close(release)
	wg.Wait()

	// Once the run finishes, the next tick fires again.
	s.tick()
	assert.Equal(t, int32(2), atomic.LoadInt32(&invocations))
}

func TestTickRoutesErrors(t *testing.T) {
	var got error
	s, err := New(Config{
		Schedule:  "* * * * *",
		OnTrigger: func(ctx context.Context) error { return errors.New(errors.ErrorTypeConnection, "boom") },
		OnError:   func(err error) { got = err },
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	s.tick()
	require.Error(t, got)

	// Errors never stop subsequent ticks.
	got = nil
	s.tick()
	require.Error(t, got)
}

func TestTickRecoversPanics(t *testing.T) {
	var got error
	calls := 0
	s, err := New(Config{
		Schedule: "* * * * *",
		OnTrigger: func(ctx context.Context) error {
			calls++
			panic("kaboom")
		},
		OnError: func(err error) { got = err },
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	require.NotPanics(t, func() { s.tick() })
	require.Error(t, got)
	assert.Contains(t, got.Error(), "kaboom")

	// The scheduler keeps ticking after a panic.
	s.tick()
	assert.Equal(t, 2, calls)
}

func TestStartStop(t *testing.T) {
	var invocations int32
	s, err := New(Config{
		Schedule: "* * * * *",
		OnTrigger: func(ctx context.Context) error {
			atomic.AddInt32(&invocations, 1)
			return nil
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	s.Start()
	s.Start() // second start is a no-op
	s.Stop()
	s.Stop() // second stop is a no-op
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	entered := make(chan struct{})
	finished := make(chan struct{})

	s, err := New(Config{
		Schedule: "* * * * *",
		OnTrigger: func(ctx context.Context) error {
			close(entered)
			time.Sleep(50 * time.Millisecond)
			close(finished)
			return nil
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	s.Start()
	go s.tick()
	<-entered

	s.Stop()
	select {
	case <-finished:
	default:
		t.Fatal("Stop returned while the run was still in flight")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"0 * * * *", "Every hour"},
		{"* * * * *", "Every minute"},
		{"*/1 * * * *", "Every minute"},
		{"*/5 * * * *", "Every 5 minutes"},
		{"*/30 * * * *", "Every 30 minutes"},
		{"15 * * * *", "Every hour at minute 15"},
		{"0 */6 * * *", "Every 6 hours"},
		{"0 9 * * *", "Every day at 09:00"},
		{"30 18 * * *", "Every day at 18:30"},
		{"30 9 * * 1", "Every Monday at 09:30"},
		{"0 0 * * 0", "Every Sunday at 00:00"},
		{"15 14 1 * *", "Monthly on day 1 at 14:15"},
		{"5 4 * 2 *", "5 4 * 2 *"},
		{"0 9 * * 1-5", "0 9 * * 1-5"},
		{"not cron", "not cron"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.expr))
		})
	}
}
