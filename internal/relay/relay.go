// Package relay delivers lifecycle events to the receiving service on a
// best-effort basis: one attempt per event, failures logged and dropped.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/sessionrelay/internal/observability"
	"github.com/danmuck/sessionrelay/internal/session"
	"github.com/rs/zerolog/log"
)

// Sender performs one delivery to the receiving service.
type Sender interface {
	SendLifecycleEvent(ctx context.Context, evt session.Event) error
}

// Relay detaches each Notify into its own delivery goroutine.
type Relay struct {
	node    string
	sender  Sender
	timeout time.Duration
	wg      sync.WaitGroup
}

// New returns a relay. A nil sender turns Notify into a logged no-op.
func New(node string, sender Sender, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Relay{node: node, sender: sender, timeout: timeout}
}

// Notify never blocks and never reports failure to the caller.
func (r *Relay) Notify(evt session.Event) {
	if r.sender == nil {
		log.Debug().Str("event_id", evt.ID).Str("kind", string(evt.Kind)).Msg("relay_disabled")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.deliver(evt)
	}()
}

// Wait blocks until in-flight deliveries finish or ctx ends.
func (r *Relay) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) deliver(evt session.Event) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := r.sender.SendLifecycleEvent(ctx, evt)
	observability.RecordRelayDelivery(r.node, string(evt.Kind), time.Since(start), err == nil)
	if err != nil {
		entry := log.Error().
			Err(err).
			Str("event_id", evt.ID).
			Str("kind", string(evt.Kind))
		if evt.Identity != nil {
			entry = entry.Str("user_id", evt.Identity.ID)
		}
		entry.Msg("relay_delivery_failed")
		return
	}
	log.Debug().Str("event_id", evt.ID).Str("kind", string(evt.Kind)).Msg("relay_delivered")
}
