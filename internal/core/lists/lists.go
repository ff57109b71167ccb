// Package lists implements the allowlist and blocklist access-control
// sets the pipeline consults before running detection. Mutations enforce
// strict mutual exclusion: an address is never simultaneously allowlisted
// and blocklisted.
package lists

import (
	"time"

	"github.com/wardenhq/sentryd/internal/core/errs"
)

// BlockEntry carries the investigation metadata attached to a blocked
// address, grounded on the original monitor's block-reason bookkeeping.
type BlockEntry struct {
	Addr      string
	Reason    string
	BlockedAt time.Time
}

// Lists holds the allow and block sets. It is not safe for concurrent
// use on its own; callers (the pipeline orchestrator) are responsible
// for serializing access per the single-writer discipline of §5.
type Lists struct {
	allow map[string]struct{}
	block map[string]BlockEntry
}

// New returns an empty Lists.
func New() *Lists {
	return &Lists{
		allow: make(map[string]struct{}),
		block: make(map[string]BlockEntry),
	}
}

// Block adds addr to the blocklist with reason. It is idempotent: a
// repeated Block call for an already-blocked address updates the reason
// and leaves the rest of state equivalent to a single call. Blocking an
// allowlisted address fails with errs.Precondition and changes nothing.
func (l *Lists) Block(addr, reason string, now time.Time) error {
	if _, ok := l.allow[addr]; ok {
		return errs.New(errs.Precondition, "lists.Block", "address is allowlisted")
	}
	l.block[addr] = BlockEntry{Addr: addr, Reason: reason, BlockedAt: now}
	return nil
}

// Allow adds addr to the allowlist. This implicitly removes addr from
// the blocklist, satisfying the mutual-exclusion invariant. Idempotent.
func (l *Lists) Allow(addr string) {
	l.allow[addr] = struct{}{}
	delete(l.block, addr)
}

// RemoveBlock removes addr from the blocklist if present. Idempotent.
func (l *Lists) RemoveBlock(addr string) {
	delete(l.block, addr)
}

// RemoveAllow removes addr from the allowlist if present. Idempotent.
func (l *Lists) RemoveAllow(addr string) {
	delete(l.allow, addr)
}

// IsBlocked reports whether addr is currently blocklisted.
func (l *Lists) IsBlocked(addr string) bool {
	_, ok := l.block[addr]
	return ok
}

// IsAllowed reports whether addr is currently allowlisted.
func (l *Lists) IsAllowed(addr string) bool {
	_, ok := l.allow[addr]
	return ok
}

// Status derives the dossier-facing classification for addr from the
// current list membership.
func (l *Lists) Status(addr string) string {
	switch {
	case l.IsBlocked(addr):
		return "blocked"
	case l.IsAllowed(addr):
		return "allowlisted"
	default:
		return "monitoring"
	}
}

// Snapshot returns copies of the current allow and block sets, safe to
// hand to a reader without risking torn state on future mutation.
func (l *Lists) Snapshot() (allow []string, block []BlockEntry) {
	allow = make([]string, 0, len(l.allow))
	for addr := range l.allow {
		allow = append(allow, addr)
	}
	block = make([]BlockEntry, 0, len(l.block))
	for _, e := range l.block {
		block = append(block, e)
	}
	return allow, block
}
