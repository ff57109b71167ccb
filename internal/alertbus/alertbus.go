// Package alertbus publishes alerts onto a NATS JetStream stream,
// guarded by a circuit breaker so a degraded broker never backs up the
// pipeline Orchestrator's single writer goroutine.
package alertbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/wardenhq/sentryd/internal/config"
	"github.com/wardenhq/sentryd/internal/core/alert"
	"github.com/wardenhq/sentryd/internal/metrics"
)

// Bus publishes alerts and, via mitigation.Dispatcher,
// mitigation commands onto NATS JetStream subjects.
type Bus struct {
	cfg            config.NATSConfig
	conn           *nats.Conn
	js             jetstream.JetStream
	circuitBreaker *circuitBreaker
}

// Connect dials NATS and ensures the alert stream exists.
func Connect(ctx context.Context, cfg config.NATSConfig) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("sentryd"),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnectAttempts),
	}

	conn, err := nats.Connect(cfg.URLs[0], opts...)
	if err != nil {
		return nil, fmt.Errorf("alertbus: connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("alertbus: jetstream context: %w", err)
	}

	b := &Bus{
		cfg:  cfg,
		conn: conn,
		js:   js,
		circuitBreaker: &circuitBreaker{
			threshold:         cfg.CircuitBreakerTrip,
			timeout:           cfg.CircuitBreakerReset,
			recoveryThreshold: 3,
		},
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject, cfg.BlockSubject},
		Storage:  jetstream.FileStorage,
		MaxAge:   24 * time.Hour,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("alertbus: create stream: %w", err)
	}

	return b, nil
}

// Close drains and closes the underlying NATS connection.
func (b *Bus) Close() {
	b.conn.Close()
}

// PublishAlert serializes a and publishes it to the configured alert
// subject. Suppressed (returns nil without publishing) while the
// circuit breaker is open.
func (b *Bus) PublishAlert(ctx context.Context, a alert.Alert) error {
	return b.publish(ctx, b.cfg.Subject, a)
}

// Publish sends an arbitrary JSON-serializable payload to subject,
// going through the same circuit breaker as PublishAlert. Used by
// internal/mitigation to push block commands onto BlockSubject.
func (b *Bus) Publish(ctx context.Context, subject string, payload any) error {
	return b.publish(ctx, subject, payload)
}

func (b *Bus) publish(ctx context.Context, subject string, payload any) error {
	if !b.circuitBreaker.allowRequest() {
		metrics.AlertBusCircuitOpen.Set(1)
		return nil
	}
	metrics.AlertBusCircuitOpen.Set(0)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alertbus: marshal: %w", err)
	}

	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		b.circuitBreaker.recordFailure()
		return fmt.Errorf("alertbus: publish %s: %w", subject, err)
	}
	b.circuitBreaker.recordSuccess()
	return nil
}

// State returns the circuit breaker's current state ("closed",
// "half-open" or "open").
func (b *Bus) State() string {
	return b.circuitBreaker.state()
}

type cbState int

const (
	cbClosed cbState = iota
	cbHalfOpen
	cbOpen
)

// circuitBreaker trips after threshold consecutive failures and stays
// open for timeout before allowing a half-open trial.
type circuitBreaker struct {
	mu                sync.Mutex
	state_            cbState
	failureCount      int
	successCount      int
	lastFailure       time.Time
	threshold         int
	timeout           time.Duration
	recoveryThreshold int
}

func (cb *circuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state_ {
	case cbClosed:
		return true
	case cbHalfOpen:
		return cb.successCount < cb.recoveryThreshold
	case cbOpen:
		if time.Since(cb.lastFailure) > cb.timeout {
			cb.state_ = cbHalfOpen
			cb.successCount = 0
			cb.failureCount = 0
			return true
		}
		return false
	}
	return true
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.failureCount >= cb.threshold {
		cb.state_ = cbOpen
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.failureCount = 0
	if cb.state_ == cbHalfOpen && cb.successCount >= cb.recoveryThreshold {
		cb.state_ = cbClosed
	}
}

func (cb *circuitBreaker) state() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state_ {
	case cbClosed:
		return "closed"
	case cbHalfOpen:
		return "half-open"
	case cbOpen:
		return "open"
	default:
		return "unknown"
	}
}
