package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/autograder/internal/llm"
)

func noSleep(sleeps *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
}

func TestClassifyByMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		kind string
		r    Retryability
	}{
		{"dial tcp: i/o timeout", KindTimeout, Definite},
		{"请求超时", KindTimeout, Definite},
		{"status 429", KindRateLimit, Definite},
		{"connection reset by peer", KindNetwork, Definite},
		{"503 Service Unavailable", KindServiceUnavailable, Definite},
		{"access_token expired", KindToken, Possible},
		{"502 bad gateway", KindServerError, Possible},
		{"JSON 解析失败", KindJSONParse, NotWorth},
		{"400 Bad Request", KindBadRequest, NotWorth},
		{"404 page not found", KindNotFound, NotWorth},
		{"非法参数", KindInvalidInput, NotWorth},
		{"401 Unauthorized", KindPermission, Manual},
		{"feature not implemented", KindNotImplemented, Manual},
		{"something odd", KindUnknown, Possible},
	}
	for _, tc := range cases {
		c := Classify(errors.New(tc.msg))
		assert.Equal(t, tc.kind, c.Kind, tc.msg)
		assert.Equal(t, tc.r, c.Retryability, tc.msg)
	}
}

func TestClassifyTypedErrors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Classification{KindTimeout, Definite}, Classify(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.Equal(t, Classification{KindPermission, Manual}, Classify(&llm.CallError{Kind: llm.KindAuth, Status: 401}))
	assert.Equal(t, Classification{KindServiceUnavailable, Definite}, Classify(&llm.CallError{Kind: llm.KindUpstream, Status: 503}))
	assert.Equal(t, Classification{KindServerError, Possible}, Classify(&llm.CallError{Kind: llm.KindUpstream, Status: 500}))
	assert.Equal(t, Classification{KindInvalidInput, NotWorth}, Classify(&llm.CallError{Kind: llm.KindInvalidKey}))
}

func TestDelay(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	assert.Equal(t, 3*time.Second, p.Delay(1, KindRateLimit, 1.0))
	assert.Equal(t, 3*time.Second, p.Delay(2, KindTimeout, 1.0))
	assert.Equal(t, 10*time.Second, p.Delay(4, KindServiceUnavailable, 1.2), "capped")
	assert.Equal(t, 800*time.Millisecond, p.Delay(1, KindNetwork, 0.8))
}

func TestDoRetriesDefiniteErrors(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	p := DefaultPolicy()
	p.Sleep = noSleep(&sleeps)
	p.Jitter = func() float64 { return 1 }

	calls := 0
	got, err := Do(context.Background(), p, "call", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, sleeps)
}

func TestDoExhausts(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	p := Policy{MaxRetries: 2, Sleep: noSleep(&sleeps), Jitter: func() float64 { return 1 }}

	calls := 0
	_, err := Do(context.Background(), p, "call", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("429 too many requests")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, sleeps)
}

func TestDoStopsOnNotWorthAndManual(t *testing.T) {
	t.Parallel()

	for _, msg := range []string{"json parse error", "403 forbidden"} {
		var sleeps []time.Duration
		p := DefaultPolicy()
		p.Sleep = noSleep(&sleeps)

		calls := 0
		_, err := Do(context.Background(), p, "call", func(context.Context) (int, error) {
			calls++
			return 0, errors.New(msg)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls, msg)
		assert.Empty(t, sleeps)
	}
}

func TestDoPossibleUsesLegacyPredicate(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	p := DefaultPolicy()
	p.Sleep = noSleep(&sleeps)
	p.Legacy = func(error) bool { return false }

	calls := 0
	_, err := Do(context.Background(), p, "call", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("500 internal server error")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	p.Legacy = nil
	calls = 0
	_, err = Do(context.Background(), p, "call", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("500 internal server error")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoRetryableOverride(t *testing.T) {
	t.Parallel()

	var sleeps []time.Duration
	p := DefaultPolicy()
	p.Sleep = noSleep(&sleeps)
	p.Retryable = func(error) bool { return true }

	calls := 0
	_, err := Do(context.Background(), p, "capture", func(context.Context) ([]byte, error) {
		calls++
		return nil, errors.New("invalid display")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.BaseDelay = time.Hour
	p.MaxDelay = time.Hour

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, "call", func(context.Context) (int, error) {
			calls++
			return 0, errors.New("timeout")
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not stop on cancellation")
	}
}
