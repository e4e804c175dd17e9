package client

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultPollDelays spaces the re-fetch attempts after a send. The schedule
// is short on purpose: it only bridges the gap until the event stream
// catches up or the push channel delivers.
var defaultPollDelays = []time.Duration{
	300 * time.Millisecond,
	600 * time.Millisecond,
	800 * time.Millisecond,
	1200 * time.Millisecond,
}

// Poller runs a bounded, cancellable re-fetch sequence per recipient.
// At most one sequence is active per recipient: scheduling a new send for
// the same recipient replaces (and cancels) the previous sequence, so a
// still-unconfirmed earlier send is only picked up by the exhaustion-time
// fallback refresh. That trade-off keeps the timer population bounded.
type Poller struct {
	delays []time.Duration

	// check re-fetches the recipient's list and reports whether the
	// correlation key is now persisted.
	check func(ctx context.Context, recipient, correlationKey string) (bool, error)
	// fallback runs one unconditional refresh after the schedule is spent.
	fallback func(ctx context.Context, recipient string)

	mu      sync.Mutex
	handles map[string]*pollHandle
}

type pollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(
	delays []time.Duration,
	check func(ctx context.Context, recipient, correlationKey string) (bool, error),
	fallback func(ctx context.Context, recipient string),
) *Poller {
	if len(delays) == 0 {
		delays = defaultPollDelays
	}
	return &Poller{
		delays:   delays,
		check:    check,
		fallback: fallback,
		handles:  make(map[string]*pollHandle),
	}
}

// Schedule starts the attempt sequence for one send. Any sequence already
// running for the recipient is cancelled before the new one is installed.
func (p *Poller) Schedule(recipient, correlationKey string) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &pollHandle{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	if old, ok := p.handles[recipient]; ok {
		old.cancel()
	}
	p.handles[recipient] = h
	p.mu.Unlock()

	go p.run(ctx, h, recipient, correlationKey)
}

func (p *Poller) run(ctx context.Context, h *pollHandle, recipient, correlationKey string) {
	defer close(h.done)
	defer p.release(recipient, h)

	for _, delay := range p.delays {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		found, err := p.check(ctx, recipient, correlationKey)
		if err != nil {
			// A failed attempt is never surfaced; the schedule covers it.
			slog.Debug("poll attempt failed", "recipient", recipient, "error", err)
			continue
		}
		if found {
			return
		}
	}

	if ctx.Err() == nil {
		p.fallback(ctx, recipient)
	}
}

// release removes the handle unless a newer sequence already replaced it.
func (p *Poller) release(recipient string, h *pollHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handles[recipient] == h {
		delete(p.handles, recipient)
	}
}

// Cancel stops the recipient's active sequence, if any, and waits for it.
func (p *Poller) Cancel(recipient string) {
	p.mu.Lock()
	h := p.handles[recipient]
	p.mu.Unlock()

	if h != nil {
		h.cancel()
		<-h.done
	}
}

// CancelAll stops every active sequence and waits for them.
func (p *Poller) CancelAll() {
	p.mu.Lock()
	handles := make([]*pollHandle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.cancel()
		<-h.done
	}
}

// Active reports whether a sequence is running for the recipient.
func (p *Poller) Active(recipient string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.handles[recipient]
	return ok
}
