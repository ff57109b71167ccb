// Package mitigation publishes block commands onto the alert bus's
// NATS connection so an external firewall/edge agent can act on a
// sentryd block decision. Trimmed to a single action, block_ip: the
// Orchestrator itself already applies the block locally through
// internal/core/lists, so this package exists only to fan that
// decision out to agents sentryd doesn't control directly.
package mitigation

import (
	"context"
	"time"
)

// Publisher is satisfied by *alertbus.Bus.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// BlockCommand is the wire payload sent to firewall/edge agents.
type BlockCommand struct {
	Action   string    `json:"action"`
	Addr     string    `json:"ip"`
	Reason   string    `json:"reason"`
	IssuedAt time.Time `json:"issued_at"`
}

// Dispatcher fans a block decision out over the alert bus.
type Dispatcher struct {
	bus     Publisher
	subject string
}

// NewDispatcher builds a Dispatcher publishing to subject (the bus's
// configured NATSConfig.BlockSubject).
func NewDispatcher(bus Publisher, subject string) *Dispatcher {
	return &Dispatcher{bus: bus, subject: subject}
}

// DispatchBlock publishes a block_ip command for addr.
func (d *Dispatcher) DispatchBlock(ctx context.Context, addr, reason string, at time.Time) error {
	return d.bus.Publish(ctx, d.subject, BlockCommand{
		Action:   "block_ip",
		Addr:     addr,
		Reason:   reason,
		IssuedAt: at,
	})
}
