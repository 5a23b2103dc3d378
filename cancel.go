package nimi

import (
	"context"
	"sync"
)

// Token is a process-wide broadcast cancellation signal. It starts unset,
// transitions once to "cancelled" and is never reset. Every suspension point
// in the supervision subsystem races against Token.Done() using select.
//
// Token wraps a context.Context rather than reimplementing broadcast-once
// semantics from scratch: Go's context already guarantees exactly this
// (Done() is closed exactly once, Err() is stable afterwards), so Token is a
// small named wrapper that gives the concept from the spec a first-class
// type instead of passing a bare context.Context everywhere.
type Token struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewToken returns a fresh, unset Token.
func NewToken() *Token {
	ctx, cancel := context.WithCancel(context.Background())
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel sets the token. It is safe to call more than once; only the first
// call has an effect, matching "interrupt received twice causes no
// additional cancellation effect" (spec.md §8).
func (t *Token) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	cancel()
}

// Done returns a channel that is closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Context returns a context.Context that mirrors this token's lifetime, for
// interop with context-accepting standard library APIs and signatures.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Child returns a new Token derived from t: it is cancelled automatically
// when t is cancelled, but can also be cancelled independently without
// affecting t or any other child. This gives each Supervisor its own
// cancellation granularity (spec.md §9's "Hot-reload granularity" redesign:
// "each Supervisor owns a child token derived from the fleet token; reload
// cancels only the children corresponding to changed or removed services"),
// while the fleet-wide Token still cancels every Supervisor at once on
// interrupt or terminate.
func (t *Token) Child() *Token {
	ctx, cancel := context.WithCancel(t.ctx)
	return &Token{ctx: ctx, cancel: cancel}
}
