package ai

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

var (
	gatewayWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studygroup",
		Subsystem: "ai",
		Name:      "gateway_rate_limit_waits_total",
		Help:      "Number of calls that had to wait for the minimum interval",
	})

	gatewayRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studygroup",
		Subsystem: "ai",
		Name:      "gateway_retries_total",
		Help:      "Number of retried model calls",
	}, []string{"operation"})

	gatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "studygroup",
		Subsystem: "ai",
		Name:      "gateway_call_duration_seconds",
		Help:      "Duration of model gateway calls including pacing and retries",
	}, []string{"operation"})
)

const gatewayMaxAttempts = 3

// Gateway serialises access to a metered model API. Only one call is in
// flight at a time: the mutex is held across the wait-then-call sequence so
// concurrent callers cannot race past the interval check. The last-call
// timestamp moves forward only after a successful call.
type Gateway struct {
	mu          sync.Mutex
	last        time.Time
	minInterval time.Duration
	logger      zerolog.Logger

	// injectable for tests
	sleep func(time.Duration)
	now   func() time.Time
}

// NewGateway builds a gateway enforcing minInterval between upstream calls.
func NewGateway(minInterval time.Duration, logger zerolog.Logger) *Gateway {
	return &Gateway{
		minInterval: minInterval,
		logger:      logger.With().Str("component", "ai_gateway").Logger(),
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// Invoke runs call under the gateway discipline: pace to minInterval, then
// up to three attempts with 2s/4s/8s backoff. Only rate-limit and server
// errors (429, 500, 502, 503) and timeouts are retried; anything else
// propagates immediately.
func (g *Gateway) Invoke(ctx context.Context, operation string, call func(context.Context) error) error {
	timer := prometheus.NewTimer(gatewayDuration.WithLabelValues(operation))
	defer timer.ObserveDuration()

	g.mu.Lock()
	defer g.mu.Unlock()

	if wait := g.minInterval - g.now().Sub(g.last); wait > 0 {
		gatewayWaits.Inc()
		g.logger.Debug().Dur("wait", wait).Str("operation", operation).Msg("pacing model call")
		g.sleep(wait)
	}

	var lastErr error
	for attempt := 1; attempt <= gatewayMaxAttempts; attempt++ {
		err := call(ctx)
		if err == nil {
			g.last = g.now()
			return nil
		}

		lastErr = err
		if attempt == gatewayMaxAttempts || !retryable(err) {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		gatewayRetries.WithLabelValues(operation).Inc()
		g.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Str("operation", operation).
			Msg("model call failed, retrying")
		g.sleep(backoff)
	}

	return lastErr
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if retryableStatus(reqErr.HTTPStatusCode) {
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

func retryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503:
		return true
	default:
		return false
	}
}
