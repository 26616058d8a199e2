package conversation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/movario/moving-ai-platform/pkg/logging"
)

var llmTracer = otel.Tracer("movario.internal.conversation.llm")

var llmLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "movario",
		Subsystem: "conversation",
		Name:      "llm_latency_seconds",
		Help:      "Latency of LLM completions",
		// Focus on sub-10s buckets with a few higher ones for visibility.
		Buckets: []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20, 30},
	},
	[]string{"model", "status"},
)

var llmTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "movario",
		Subsystem: "conversation",
		Name:      "llm_tokens_total",
		Help:      "Tokens used by the LLM",
	},
	[]string{"model", "type"}, // type: input, output, total
)

var llmRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "movario",
		Subsystem: "conversation",
		Name:      "llm_retries_total",
		Help:      "LLM attempts retried after a transient provider failure",
	},
	[]string{"model"},
)

func init() {
	prometheus.MustRegister(llmLatency)
	prometheus.MustRegister(llmTokensTotal)
	prometheus.MustRegister(llmRetriesTotal)
}

// RegisterMetrics registers conversation metrics with a custom registry.
// Use this when exposing a non-default registry (e.g., HTTP handlers with a private registry).
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(llmLatency, llmTokensTotal, llmRetriesTotal, actionsTotal)
}

const (
	gatewayMaxRetries  = 2 // 3 attempts total
	gatewayBackoffUnit = 500 * time.Millisecond
	gatewayCallTimeout = 60 * time.Second
	gatewayMaxTokens   = 600
)

// GenerateResult is the outcome of one completion: the raw model text
// (hidden data block included), token counts and wall-clock latency.
type GenerateResult struct {
	Text    string
	Usage   TokenUsage
	Latency time.Duration
}

type GatewayOption func(*Gateway)

// WithRetryPolicy overrides the retry count and backoff unit, mainly for tests.
func WithRetryPolicy(maxRetries int, backoffUnit time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.maxRetries = maxRetries
		g.backoffUnit = backoffUnit
	}
}

// WithCallTimeout overrides the per-attempt timeout.
func WithCallTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.callTimeout = d
	}
}

// WithMaxTokens overrides the completion token cap.
func WithMaxTokens(n int32) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// Gateway fronts the configured LLM provider: per-attempt timeouts, bounded
// retry on transient failures, latency/token metrics, and streaming with the
// hidden data block filtered out.
type Gateway struct {
	client      LLMClient
	model       string
	maxRetries  int
	backoffUnit time.Duration
	callTimeout time.Duration
	maxTokens   int32
	logger      *logging.Logger
}

func NewGateway(client LLMClient, model string, logger *logging.Logger, opts ...GatewayOption) *Gateway {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	if strings.TrimSpace(model) == "" {
		panic("conversation: model id cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	g := &Gateway{
		client:      client,
		model:       model,
		maxRetries:  gatewayMaxRetries,
		backoffUnit: gatewayBackoffUnit,
		callTimeout: gatewayCallTimeout,
		maxTokens:   gatewayMaxTokens,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs a blocking completion. Transient failures (timeout, throttle)
// are retried with a linear backoff, up to two retries; each retry waits
// attempt × backoff unit. Any other failure propagates immediately, as does
// the last error once retries are exhausted.
func (g *Gateway) Generate(ctx context.Context, system []string, history []ChatMessage) (GenerateResult, error) {
	ctx, span := llmTracer.Start(ctx, "conversation.llm.generate")
	defer span.End()
	span.SetAttributes(attribute.String("movario.llm.model", g.model))

	req := LLMRequest{
		Model:       g.model,
		System:      system,
		Messages:    history,
		MaxTokens:   g.maxTokens,
		Temperature: 0.3,
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= g.maxRetries+1; attempt++ {
		resp, err := g.completeOnce(ctx, req)
		if err == nil {
			latency := time.Since(start)
			g.observe(resp.Usage, latency, "ok")
			span.SetAttributes(
				attribute.Int("movario.llm.input_tokens", int(resp.Usage.InputTokens)),
				attribute.Int("movario.llm.output_tokens", int(resp.Usage.OutputTokens)),
				attribute.Int("movario.llm.attempts", attempt),
			)
			return GenerateResult{Text: resp.Text, Usage: resp.Usage, Latency: latency}, nil
		}
		lastErr = err

		if !IsTransient(err) {
			break
		}
		if attempt > g.maxRetries {
			break
		}

		llmRetriesTotal.WithLabelValues(g.model).Inc()
		wait := time.Duration(attempt) * g.backoffUnit
		g.logger.Warn("llm attempt failed, retrying",
			"model", g.model,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			g.observe(TokenUsage{}, time.Since(start), "error")
			span.RecordError(ctx.Err())
			return GenerateResult{}, fmt.Errorf("conversation: llm generate aborted: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	g.observe(TokenUsage{}, time.Since(start), "error")
	span.RecordError(lastErr)
	return GenerateResult{}, fmt.Errorf("conversation: llm generate failed: %w", lastErr)
}

func (g *Gateway) completeOnce(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	resp, err := g.client.Complete(callCtx, req)
	if err != nil {
		return LLMResponse{}, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return LLMResponse{}, errors.New("conversation: llm returned empty response")
	}
	return resp, nil
}

// Stream runs a completion delivering visible text increments to onChunk. The
// hidden data block is filtered out before chunks reach the sink; the returned
// result carries the full raw text so callers can still parse the block. When
// the provider cannot stream, the blocking call runs and the filtered reply is
// delivered as a single chunk.
func (g *Gateway) Stream(ctx context.Context, system []string, history []ChatMessage, onChunk func(string)) (GenerateResult, error) {
	if onChunk == nil {
		return GenerateResult{}, errors.New("conversation: stream sink is required")
	}

	streamer, ok := g.client.(StreamingLLMClient)
	if !ok {
		return g.streamViaGenerate(ctx, system, history, onChunk)
	}

	ctx, span := llmTracer.Start(ctx, "conversation.llm.stream")
	defer span.End()
	span.SetAttributes(attribute.String("movario.llm.model", g.model))

	req := LLMRequest{
		Model:       g.model,
		System:      system,
		Messages:    history,
		MaxTokens:   g.maxTokens,
		Temperature: 0.3,
	}

	start := time.Now()
	chunks, err := streamer.CompleteStream(ctx, req)
	if err != nil {
		if IsTransient(err) {
			g.logger.Warn("llm stream start failed, falling back to blocking call", "model", g.model, "error", err)
			return g.streamViaGenerate(ctx, system, history, onChunk)
		}
		g.observe(TokenUsage{}, time.Since(start), "error")
		span.RecordError(err)
		return GenerateResult{}, fmt.Errorf("conversation: llm stream failed: %w", err)
	}

	filter := newHiddenBlockFilter(onChunk)
	var raw strings.Builder
	var usage TokenUsage
	for chunk := range chunks {
		if chunk.Error != nil {
			g.observe(TokenUsage{}, time.Since(start), "error")
			span.RecordError(chunk.Error)
			return GenerateResult{}, fmt.Errorf("conversation: llm stream failed: %w", chunk.Error)
		}
		if chunk.Text != "" {
			raw.WriteString(chunk.Text)
			filter.Write(chunk.Text)
		}
		if chunk.Done {
			usage = chunk.Usage
		}
	}
	filter.Flush()

	latency := time.Since(start)
	g.observe(usage, latency, "ok")
	return GenerateResult{Text: strings.TrimSpace(raw.String()), Usage: usage, Latency: latency}, nil
}

func (g *Gateway) streamViaGenerate(ctx context.Context, system []string, history []ChatMessage, onChunk func(string)) (GenerateResult, error) {
	result, err := g.Generate(ctx, system, history)
	if err != nil {
		return GenerateResult{}, err
	}
	if visible := StripHiddenBlock(result.Text); visible != "" {
		onChunk(visible)
	}
	return result, nil
}

func (g *Gateway) observe(usage TokenUsage, latency time.Duration, status string) {
	llmLatency.WithLabelValues(g.model, status).Observe(latency.Seconds())
	if usage.InputTokens > 0 {
		llmTokensTotal.WithLabelValues(g.model, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		llmTokensTotal.WithLabelValues(g.model, "output").Add(float64(usage.OutputTokens))
	}
	if usage.TotalTokens > 0 {
		llmTokensTotal.WithLabelValues(g.model, "total").Add(float64(usage.TotalTokens))
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func isThrottle(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "throttl") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "overloaded")
}
