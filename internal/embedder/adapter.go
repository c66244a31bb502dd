package embedder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/budget"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/metrics"
	"github.com/54b3r/brandrag/internal/settings"
)

// maxRetries bounds provider retries within a single Embed call.
const maxRetries = 2

// AdapterConfig holds the dependencies of an Adapter.
type AdapterConfig struct {
	Provider Provider
	Settings *settings.Cache
	// Timeout bounds one Embed call including retries (default DefaultTimeout).
	Timeout time.Duration
	// InitialBackoff is the first retry delay (default 200ms).
	InitialBackoff time.Duration
	// BreakerFailures is the number of consecutive failures that opens the
	// circuit (default 5).
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open (default 30s).
	BreakerCooldown time.Duration
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// Adapter applies the engine's failure policy to a Provider. It never
// returns an error: failures degrade to a zero vector of the configured
// dimension, which can never rank above a similarity threshold.
type Adapter struct {
	provider       Provider
	settings       *settings.Cache
	timeout        time.Duration
	initialBackoff time.Duration
	breaker        *gobreaker.CircuitBreaker
	metrics        *metrics.Metrics
	log            *slog.Logger
}

// NewAdapter returns an Adapter around cfg.Provider.
func NewAdapter(cfg AdapterConfig) *Adapter {
	a := &Adapter{
		provider:       cfg.Provider,
		settings:       cfg.Settings,
		timeout:        cfg.Timeout,
		initialBackoff: cfg.InitialBackoff,
		metrics:        cfg.Metrics,
		log:            logging.Component(cfg.Logger, "embedder"),
	}
	if a.timeout <= 0 {
		a.timeout = DefaultTimeout
	}
	if a.initialBackoff <= 0 {
		a.initialBackoff = 200 * time.Millisecond
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding:" + cfg.Provider.Name(),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.log.Warn("embedding circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return a
}

// Embed returns the embedding of text and whether it came from the
// provider. Empty text is never sent to the provider.
//
// The model and dimension are read from the system configuration on every
// call. A vector whose length differs from the configured dimension is
// logged and returned unchanged.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, bool) {
	cfg := a.settings.Get(ctx).Embedding
	name := a.provider.Name()

	if text == "" {
		a.metrics.EmbeddingCall(name, metrics.OutcomeEmpty)
		return make([]float32, cfg.Dimensions), false
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req := Request{Texts: []string{text}, Model: cfg.Model, Dimensions: cfg.Dimensions}
	res, err := a.breaker.Execute(func() (interface{}, error) {
		return a.embedWithRetry(ctx, req)
	})
	if err != nil {
		outcome := metrics.OutcomeFallback
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = metrics.OutcomeBreakerOpen
		}
		a.metrics.EmbeddingCall(name, outcome)
		a.log.Warn("embedding failed, using zero vector",
			slog.String("provider", name),
			slog.String("model", cfg.Model),
			slog.String("outcome", outcome),
			logging.Err(err),
		)
		return make([]float32, cfg.Dimensions), false
	}

	vec := res.([]float32)
	if cfg.Dimensions > 0 && len(vec) != cfg.Dimensions {
		a.log.Warn("embedding dimension mismatch, possible model drift",
			slog.String("provider", name),
			slog.String("model", cfg.Model),
			slog.Int("configured", cfg.Dimensions),
			slog.Int("actual", len(vec)),
		)
	}

	a.metrics.EmbeddingCall(name, metrics.OutcomeOK)
	a.metrics.EmbeddingCost(budget.EmbeddingCost(text, cfg.CostPer1K))
	return vec, true
}

func (a *Adapter) embedWithRetry(ctx context.Context, req Request) ([]float32, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)

	var vec []float32
	op := func() error {
		out, err := a.provider.Embed(ctx, req)
		if err != nil {
			if apperr.HasCode(err, apperr.CodeProviderMalformed) || apperr.HasCode(err, apperr.CodeProviderRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(out) != 1 {
			return backoff.Permanent(apperr.Errorf(apperr.CodeProviderMalformed,
				"expected 1 embedding, got %d", len(out)))
		}
		vec = out[0]
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.log.Debug("embedding attempt failed, retrying",
			slog.Duration("wait", wait),
			logging.Err(err),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return vec, nil
}

// Name identifies the adapter in readiness responses.
func (a *Adapter) Name() string { return "embedding:" + a.provider.Name() }

// Ping reports the breaker state without calling the provider, so readiness
// probes never spend tokens. An open circuit means recent calls failed.
func (a *Adapter) Ping(_ context.Context) error {
	if a.breaker.State() == gobreaker.StateOpen {
		return apperr.New(apperr.CodeProviderFailure, "embedding circuit breaker is open")
	}
	return nil
}
