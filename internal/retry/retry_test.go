package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) Config {
	return Config{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo(t *testing.T) {
	errTemp := errors.New("temporary")

	tests := []struct {
		name         string
		retries      int
		failures     int
		classifier   ErrorClassifier
		err          error
		wantAttempts int
		wantErr      bool
	}{
		{name: "first attempt succeeds", retries: 3, failures: 0, wantAttempts: 1},
		{name: "succeeds after two failures", retries: 3, failures: 2, err: errTemp, wantAttempts: 3},
		{name: "exhausts budget", retries: 2, failures: 10, err: errTemp, wantAttempts: 3, wantErr: true},
		{name: "permanent error stops immediately", retries: 3, failures: 10, err: Permanent(errTemp), wantAttempts: 1, wantErr: true},
		{
			name:     "custom classifier",
			retries:  3,
			failures: 10,
			err:      errTemp,
			classifier: func(err error) bool {
				return !errors.Is(err, errTemp)
			},
			wantAttempts: 1,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), fastConfig(tt.retries), tt.classifier, func(ctx context.Context) error {
				attempts++
				if attempts <= tt.failures {
					return tt.err
				}
				return nil
			})
			assert.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errTemp)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDoExhaustedReturnsRetryableError(t *testing.T) {
	errTemp := errors.New("temporary")
	err := Do(context.Background(), fastConfig(2), nil, func(ctx context.Context) error {
		return errTemp
	})

	var retryErr *RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 2, retryErr.Retries)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestDoNotifyReportsDoublingBackoff(t *testing.T) {
	cfg := Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	}
	var waits []time.Duration
	_ = DoNotify(context.Background(), cfg, nil, func(attempt int, err error, wait time.Duration) {
		waits = append(waits, wait)
	}, func(ctx context.Context) error {
		return errors.New("boom")
	})

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 2}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, nil, func(ctx context.Context) error {
			attempts++
			return errors.New("retry me")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(Permanent(errors.New("x"))))
	assert.True(t, IsRetryable(errors.New("x")))
	assert.Nil(t, Permanent(nil))
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := jitter(100*time.Millisecond, 0.2)
		assert.LessOrEqual(t, j, 20*time.Millisecond)
		assert.GreaterOrEqual(t, j, -20*time.Millisecond)
	}
	assert.Zero(t, jitter(time.Second, 0))
}
