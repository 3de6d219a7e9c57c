// Package llm wraps the Anthropic API for documentation generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/soldocs/soldocs/internal/telemetry"
)

const (
	maxAttempts      = 3
	retryBackoffUnit = 2 * time.Second
	// minCallSpacing is the coarse per-client rate limit: consecutive
	// call starts are at least this far apart. It is not a concurrency
	// limit; callers already in flight are unaffected.
	minCallSpacing = 500 * time.Millisecond
	// DefaultMaxTokens is the generation budget per call.
	DefaultMaxTokens = 4096
	// DefaultModel is used when ANTHROPIC_MODEL is not set.
	DefaultModel = "claude-3-5-haiku-latest"
)

// errAPIKeyRequired is returned when no API key is available.
var errAPIKeyRequired = errors.New("API key required")

// Client is a paced, retrying text-generation client. Safe for
// concurrent use; concurrent callers are serialized only at call start.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
	log    *slog.Logger

	mu                sync.Mutex
	lastCallStartedAt time.Time
}

// New creates a Client with the given key. Env resolution is the
// caller's job (config.Load reads ANTHROPIC_API_KEY).
func New(apiKey, model string, log *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY", errAPIKeyRequired)
	}
	if model == "" {
		model = DefaultModel
	}

	llmMetricsOnce.Do(initLLMMetrics)

	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
		log:    log,
	}, nil
}

// Generate produces text for prompt with the default token budget.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt, DefaultMaxTokens)
}

func (c *Client) generate(ctx context.Context, prompt string, maxTokens int64) (string, error) {
	if err := c.pace(ctx); err != nil {
		return "", err
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := retryBackoffUnit * time.Duration(1<<attempt)
			c.log.Warn("LLM call failed, retrying", "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		t0 := time.Now()
		message, err := c.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err == nil {
			modelAttr := attribute.String("soldocs.llm.model", string(c.model))
			if llmMetrics.inputTokens != nil {
				llmMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				llmMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				llmMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
			}
			for _, block := range message.Content {
				if block.Type == "text" {
					return block.Text, nil
				}
			}
			return "", nil
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryableMessage(err.Error()) {
			// Non-retryable upstream failures propagate unchanged so
			// the agent can classify them.
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("LLM call failed after %d attempts: %w", maxAttempts, lastErr)
}

// pace enforces minCallSpacing between call starts. Each caller reserves
// its start slot under the lock, then sleeps outside it.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	start := now
	if next := c.lastCallStartedAt.Add(minCallSpacing); next.After(now) {
		start = next
	}
	c.lastCallStartedAt = start
	c.mu.Unlock()

	if wait := time.Until(start); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// isRetryableMessage reports whether an API error is a rate-limit or
// transient server failure.
func isRetryableMessage(msg string) bool {
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "529")
}

// llmMetrics holds lazily-initialized OTel instruments for API calls.
var llmMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var llmMetricsOnce sync.Once

func initLLMMetrics() {
	m := telemetry.Meter("github.com/soldocs/soldocs/llm")
	llmMetrics.inputTokens, _ = m.Int64Counter("soldocs.llm.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	llmMetrics.outputTokens, _ = m.Int64Counter("soldocs.llm.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	llmMetrics.duration, _ = m.Float64Histogram("soldocs.llm.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}
