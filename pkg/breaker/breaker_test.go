package breaker

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.MinRequests = 3
	cfg.Timeout = 50 * time.Millisecond
	return cfg
}

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b := New[int](testConfig("closed"), nil, testLogger())

	v, err := b.Execute(func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_TripsAndRecovers(t *testing.T) {
	b := New[string](testConfig("trip"), nil, testLogger())
	boom := errors.New("redis down")

	for i := 0; i < 3; i++ {
		_, err := b.Execute(func() (string, error) { return "", boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.True(t, b.IsOpen())

	_, err := b.Execute(func() (string, error) { return "never", nil })
	assert.ErrorIs(t, err, ErrOpen)

	time.Sleep(80 * time.Millisecond)

	v, err := b.Execute(func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	miss := errors.New("miss")
	b := New[string](testConfig("ignore"), func(err error) bool { return errors.Is(err, miss) }, testLogger())

	for i := 0; i < 10; i++ {
		_, err := b.Execute(func() (string, error) { return "", miss })
		assert.ErrorIs(t, err, miss)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
