package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pulseplan/pulse/internal/telemetry"
)

// ErrBoundaryOpen is returned when the breaker is open and provider calls are
// suspended. Callers treat it like any other provider failure and fall back
// to rule-based behavior.
var ErrBoundaryOpen = errors.New("llm: error boundary open")

// BoundaryState describes the breaker position.
type BoundaryState string

const (
	BoundaryClosed   BoundaryState = "closed"
	BoundaryOpen     BoundaryState = "open"
	BoundaryHalfOpen BoundaryState = "half_open"
)

// BoundaryConfig tunes the error boundary.
type BoundaryConfig struct {
	// FailureThreshold is the number of consecutive provider failures that
	// opens the boundary. Default 5.
	FailureThreshold int
	// Cooldown is how long the boundary stays open before a single probe
	// call is let through. Default 30s.
	Cooldown time.Duration
}

func (c BoundaryConfig) withDefaults() BoundaryConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// Boundary wraps a Service with a circuit breaker. After FailureThreshold
// consecutive failures it rejects calls immediately for Cooldown, then lets a
// single probe through. A successful probe closes the boundary, a failed one
// reopens it. Caller cancellation does not count as a provider failure.
type Boundary struct {
	inner   Service
	model   string
	metrics *telemetry.Telemetry
	cfg     BoundaryConfig

	mu       sync.Mutex
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

var _ Service = (*Boundary)(nil)

// NewBoundary wraps inner with an error boundary. metrics may be nil.
func NewBoundary(inner Service, model string, metrics *telemetry.Telemetry, cfg BoundaryConfig) *Boundary {
	return &Boundary{
		inner:   inner,
		model:   model,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

func (b *Boundary) Chat(ctx context.Context, messages []Message) (string, *CallStats, error) {
	if !b.allow() {
		b.metrics.RecordLLMRequest(b.model, "rejected", 0)
		return "", nil, ErrBoundaryOpen
	}
	start := b.now()
	content, stats, err := b.inner.Chat(ctx, messages)
	b.record(err)
	b.observe(start, err)
	return content, stats, err
}

func (b *Boundary) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor) (*ChatResponse, *CallStats, error) {
	if !b.allow() {
		b.metrics.RecordLLMRequest(b.model, "rejected", 0)
		return nil, nil, ErrBoundaryOpen
	}
	start := b.now()
	resp, stats, err := b.inner.ChatWithTools(ctx, messages, tools)
	b.record(err)
	b.observe(start, err)
	return resp, stats, err
}

// Warmup is passed through without touching the failure count. It is best
// effort and already swallows its own errors.
func (b *Boundary) Warmup(ctx context.Context) {
	b.inner.Warmup(ctx)
}

// State reports the current breaker position for health reporting.
func (b *Boundary) State() BoundaryState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.cfg.FailureThreshold {
		return BoundaryClosed
	}
	if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return BoundaryHalfOpen
	}
	return BoundaryOpen
}

// Failures returns the consecutive failure count, for diagnostics.
func (b *Boundary) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Boundary) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.cfg.FailureThreshold {
		return true
	}
	// Open. Once the cooldown has elapsed, admit exactly one probe at a time.
	if b.now().Sub(b.openedAt) >= b.cfg.Cooldown && !b.probing {
		b.probing = true
		return true
	}
	return false
}

func (b *Boundary) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err == nil {
		b.failures = 0
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
	}
}

func (b *Boundary) observe(start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.RecordLLMRequest(b.model, status, b.now().Sub(start))
}
