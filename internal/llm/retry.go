package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("sophie.internal.llm")

var llmLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sophie",
		Subsystem: "llm",
		Name:      "latency_seconds",
		Help:      "Latency of language model calls including retries",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	},
	[]string{"model", "status"},
)

var llmRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sophie",
		Subsystem: "llm",
		Name:      "retries_total",
		Help:      "Retried language model attempts",
	},
	[]string{"model"},
)

func init() {
	prometheus.MustRegister(llmLatency, llmRetriesTotal)
}

// RegisterMetrics registers llm metrics with a non-default registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(llmLatency, llmRetriesTotal)
}

// RetryingClient bounds each attempt with a timeout and retries transient
// failures with exponential backoff up to a fixed number of attempts.
type RetryingClient struct {
	inner       Client
	timeout     time.Duration
	maxAttempts uint
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *logging.Logger
}

type RetryOption func(*RetryingClient)

func WithTimeout(d time.Duration) RetryOption {
	return func(c *RetryingClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxAttempts(n int) RetryOption {
	return func(c *RetryingClient) {
		if n > 0 {
			c.maxAttempts = uint(n)
		}
	}
}

func WithBaseDelay(d time.Duration) RetryOption {
	return func(c *RetryingClient) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

func WithRetryLogger(logger *logging.Logger) RetryOption {
	return func(c *RetryingClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewRetryingClient(inner Client, opts ...RetryOption) *RetryingClient {
	if inner == nil {
		panic("llm: inner client cannot be nil")
	}
	c := &RetryingClient{
		inner:       inner,
		timeout:     20 * time.Second,
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    5 * time.Second,
		logger:      logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RetryingClient) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(attribute.String("sophie.llm.model", req.Model))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseDelay
	policy.MaxInterval = c.maxDelay

	attempts := 0
	start := time.Now()
	resp, err := backoff.Retry(ctx, func() (Response, error) {
		attempts++
		if attempts > 1 {
			llmRetriesTotal.WithLabelValues(req.Model).Inc()
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		out, err := c.inner.Complete(callCtx, req)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrInvalidRequest) {
			return Response{}, backoff.Permanent(err)
		}
		return Response{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("llm call failed, retrying", "model", req.Model, "error", err, "wait", wait.String())
		}),
	)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
	}
	llmLatency.WithLabelValues(req.Model, status).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("sophie.llm.attempts", attempts),
		attribute.Int("sophie.llm.input_tokens", int(resp.Usage.InputTokens)),
		attribute.Int("sophie.llm.output_tokens", int(resp.Usage.OutputTokens)),
	)
	return resp, err
}
