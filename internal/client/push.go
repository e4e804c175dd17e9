package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"smsync/internal/model"
)

// PushListener subscribes to per-recipient status channels. The channel is
// an optimization: when it is down or slow the poller alone keeps the view
// converging, so subscription failures degrade silently.
type PushListener struct {
	rdb    *redis.Client
	prefix string
}

func NewPushListener(rdb *redis.Client, prefix string) *PushListener {
	return &PushListener{rdb: rdb, prefix: prefix}
}

// Subscribe delivers every status change for the recipient to onEvent and
// returns an unsubscribe function. After unsubscribe returns, onEvent is
// never invoked again.
func (l *PushListener) Subscribe(recipient string, onEvent func(model.PushEvent)) (func(), error) {
	ctx := context.Background()
	sub := l.rdb.Subscribe(ctx, l.prefix+recipient)

	// Force the subscription handshake so setup failures surface here
	// rather than as silently missing events.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	var stopped atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range sub.Channel() {
			if stopped.Load() {
				return
			}
			var ev model.PushEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Error("undecodable push payload", "recipient", recipient, "error", err)
				continue
			}
			onEvent(ev)
		}
	}()

	// Unsubscribe waits for the reader goroutine so an in-flight callback
	// finishes before it returns. Must not be called from inside onEvent.
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			stopped.Store(true)
			_ = sub.Close()
			<-done
		})
	}
	return unsubscribe, nil
}
