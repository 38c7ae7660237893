package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func dialError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestPolicy_DelayDoubles(t *testing.T) {
	p := Default()
	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 4*time.Second, p.Delay(4))
}

func TestPolicy_RetriesTransportFailures(t *testing.T) {
	rec := &recordingSleeper{}
	p := Default()
	p.Sleep = rec.sleep

	calls := 0
	err := p.Do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return dialError()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestPolicy_ExhaustsAfterMaxAttempts(t *testing.T) {
	rec := &recordingSleeper{}
	p := Default()
	p.Sleep = rec.sleep

	calls := 0
	err := p.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return dialError()
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.True(t, IsTransport(err))
}

func TestPolicy_DoesNotRetryApplicationErrors(t *testing.T) {
	p := Default()
	p.Sleep = (&recordingSleeper{}).sleep

	appErr := errors.New("ret=1101")
	calls := 0
	err := p.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return appErr
	})

	assert.ErrorIs(t, err, appErr)
	assert.Equal(t, 1, calls)
}

func TestPolicy_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Default()
	p.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := p.Do(ctx, "test", func(context.Context) error {
		calls++
		return dialError()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestValue_ReturnsResult(t *testing.T) {
	p := Default()
	p.Sleep = (&recordingSleeper{}).sleep

	calls := 0
	got, err := Value(context.Background(), p, "test", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", io.ErrUnexpectedEOF
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestIsTransport(t *testing.T) {
	assert.True(t, IsTransport(dialError()))
	assert.True(t, IsTransport(io.ErrUnexpectedEOF))
	assert.False(t, IsTransport(nil))
	assert.False(t, IsTransport(errors.New("bad json")))
	assert.False(t, IsTransport(context.Canceled))
}
