package llm

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"429 rate_limit_error", true},
		{"500 internal server error", true},
		{"529 overloaded_error", true},
		{"401 authentication_error", false},
		{"400 invalid_request_error", false},
		{"connection reset by peer", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableMessage(tt.msg), "msg=%q", tt.msg)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, errAPIKeyRequired)
}

func TestNewIgnoresEnvKey(t *testing.T) {
	// Env resolution happens in config.Load; an empty explicit key must
	// not be rescued by the process environment.
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	_, err := New("", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, errAPIKeyRequired)
}

func TestNewDefaultsModel(t *testing.T) {
	c, err := New("sk-ant-test", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, string(c.model))
}

func TestPaceSpacesCallStarts(t *testing.T) {
	c := &Client{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, c.pace(ctx))
	require.NoError(t, c.pace(ctx))
	require.NoError(t, c.pace(ctx))
	elapsed := time.Since(start)

	// Three starts reserve two spacing intervals.
	assert.GreaterOrEqual(t, elapsed, 2*minCallSpacing)
}

func TestPaceHonorsContextCancel(t *testing.T) {
	c := &Client{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, c.pace(ctx))
	cancel()
	err := c.pace(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
