// Package gateway provides a uniform completion interface over one or more
// LLM providers.
//
// The Gateway owns everything between a deliberation node and a provider
// SDK: per-provider circuit breakers, bounded retry with exponential
// backoff and jitter on transient errors, model-tier selection by round
// phase, and transparent failover to a secondary provider. Callers see a
// single Complete call; retries and failover are invisible upward unless
// every path is exhausted.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Tier selects the model strength for a call. Early divergent rounds run
// on the fast tier; convergent rounds, voting and synthesis on the strong
// tier.
type Tier int

const (
	// TierFast is the cheaper, lower-latency model.
	TierFast Tier = iota
	// TierStrong is the more capable model.
	TierStrong
)

func (t Tier) String() string {
	if t == TierStrong {
		return "strong"
	}
	return "fast"
}

// Request is a single completion call.
type Request struct {
	// System is the system prompt, empty for none.
	System string

	// Prompt is the user-facing prompt text.
	Prompt string

	// Tier selects the model strength for this call.
	Tier Tier

	// MaxTokens bounds the completion length; 0 uses the provider default.
	MaxTokens int
}

// Usage is the token accounting returned by a provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the outcome of a completion call.
type Response struct {
	Text     string
	Provider string
	Model    string
	Usage    Usage
	CostUSD  float64
}

// Provider is one LLM backend. Implementations wrap a vendor SDK, translate
// errors into *CallError, and respect context cancellation.
type Provider interface {
	// Name identifies the provider ("anthropic", "openai", "google", "mock").
	Name() string

	// Complete sends a single completion request against the given model.
	Complete(ctx context.Context, model string, req Request) (Response, error)
}

// CallError is a provider call failure with retryability classification.
type CallError struct {
	Provider  string
	Code      string
	Retryable bool
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Code, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying: rate limits, 5xx-class
// provider failures and timeouts. Context cancellation is never transient.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// UsageRecorder receives token accounting for every successful call.
// The cost ledger implements this.
type UsageRecorder interface {
	RecordUsage(sessionID, provider, model string, usage Usage, costUSD float64)
}

// ProviderConfig binds a Provider to its per-tier model names.
type ProviderConfig struct {
	Provider Provider

	// Models maps each tier to a model identifier. A missing tier falls
	// back to the other tier's model.
	Models map[Tier]string
}

func (pc ProviderConfig) model(t Tier) string {
	if m, ok := pc.Models[t]; ok && m != "" {
		return m
	}
	for _, m := range pc.Models {
		return m
	}
	return ""
}

// Config configures a Gateway.
type Config struct {
	// Primary is the provider used for every call unless its circuit is
	// open or its retries exhaust.
	Primary ProviderConfig

	// Secondary, when set, is the transparent failover target.
	Secondary *ProviderConfig

	// MaxAttempts bounds calls per provider including the first
	// (default 3).
	MaxAttempts int

	// BaseDelay and MaxDelay shape the exponential backoff between
	// retries (defaults 500ms and 8s).
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// BreakerThreshold is the consecutive-failure count that opens a
	// provider's circuit (default 5).
	BreakerThreshold int

	// BreakerCooldown is how long an open circuit waits before allowing a
	// half-open probe (default 30s).
	BreakerCooldown time.Duration

	// Pricing overrides the default pricing table when non-nil.
	Pricing map[string]ModelPricing

	// Recorder, when set, receives usage for every successful call.
	Recorder UsageRecorder
}

// Gateway dispatches completion calls across configured providers.
// Safe for concurrent use.
type Gateway struct {
	cfg      Config
	breakers map[string]*Breaker
	pricing  map[string]ModelPricing

	mu  sync.Mutex
	rng *rand.Rand
}

// ErrProvidersExhausted is returned when every configured provider failed
// or had an open circuit.
var ErrProvidersExhausted = errors.New("all providers exhausted")

// New creates a Gateway. The primary provider is required.
func New(cfg Config) (*Gateway, error) {
	if cfg.Primary.Provider == nil {
		return nil, errors.New("gateway: primary provider is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 8 * time.Second
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	pricing := cfg.Pricing
	if pricing == nil {
		pricing = defaultModelPricing
	}

	g := &Gateway{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
		pricing:  pricing,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- retry jitter, not security
	}
	g.breakers[cfg.Primary.Provider.Name()] = NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	if cfg.Secondary != nil {
		g.breakers[cfg.Secondary.Provider.Name()] = NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
	return g, nil
}

// Complete runs the request against the primary provider, failing over to
// the secondary when the primary's circuit is open or its attempts exhaust.
// An open circuit fails fast: it consumes no retry budget and no wall time.
func (g *Gateway) Complete(ctx context.Context, sessionID string, req Request) (Response, error) {
	chain := []ProviderConfig{g.cfg.Primary}
	if g.cfg.Secondary != nil {
		chain = append(chain, *g.cfg.Secondary)
	}

	var lastErr error
	for _, pc := range chain {
		resp, err := g.completeOne(ctx, sessionID, pc, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
	}
	return Response{}, fmt.Errorf("%w: %w", ErrProvidersExhausted, lastErr)
}

// completeOne runs the bounded retry loop against a single provider.
func (g *Gateway) completeOne(ctx context.Context, sessionID string, pc ProviderConfig, req Request) (Response, error) {
	name := pc.Provider.Name()
	breaker := g.breakers[name]

	if !breaker.Allow() {
		return Response{}, &CallError{Provider: name, Code: "circuit_open", Err: ErrCircuitOpen}
	}

	model := pc.model(req.Tier)
	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.backoff(attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
			// The circuit may have opened while we slept.
			if !breaker.Allow() {
				return Response{}, &CallError{Provider: name, Code: "circuit_open", Err: ErrCircuitOpen}
			}
		}

		resp, err := pc.Provider.Complete(ctx, model, req)
		breaker.Record(err)
		if err == nil {
			resp.Provider = name
			resp.Model = model
			resp.CostUSD = g.cost(model, resp.Usage)
			if g.cfg.Recorder != nil {
				g.cfg.Recorder.RecordUsage(sessionID, name, model, resp.Usage, resp.CostUSD)
			}
			return resp, nil
		}

		lastErr = err
		if !IsTransient(err) {
			return Response{}, err
		}
	}
	return Response{}, fmt.Errorf("%s: retries exhausted: %w", name, lastErr)
}

func (g *Gateway) backoff(attempt int) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return computeBackoff(attempt, g.cfg.BaseDelay, g.cfg.MaxDelay, g.rng)
}

func (g *Gateway) cost(model string, u Usage) float64 {
	p, ok := g.pricing[model]
	if !ok {
		return 0
	}
	return (float64(u.InputTokens)/1_000_000.0)*p.InputPer1M +
		(float64(u.OutputTokens)/1_000_000.0)*p.OutputPer1M
}

// BreakerState reports the circuit state for a provider name, for metrics
// and diagnostics.
func (g *Gateway) BreakerState(provider string) BreakerState {
	b, ok := g.breakers[provider]
	if !ok {
		return StateClosed
	}
	return b.State()
}
