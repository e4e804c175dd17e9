package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"smsync/internal/model"
	"smsync/internal/store"
)

// Config wires a Consumer to its stream and push channel namespace.
type Config struct {
	Stream            string
	Group             string
	Consumer          string
	BatchSize         int
	Block             time.Duration
	Workers           int
	PendingEvery      time.Duration
	PushChannelPrefix string
}

// Consumer reads delivery-status events from a Redis stream consumer group
// and merges them into the message store.
//
// Delivery is at-least-once: an entry is acknowledged only after the store
// accepted it (or after it proved undecodable, since redelivery cannot fix
// malformed data). Unacknowledged entries are redelivered; the store's
// merge makes replay harmless.
type Consumer struct {
	rdb   *redis.Client
	store store.MessageStore
	cfg   Config

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewConsumer(rdb *redis.Client, st store.MessageStore, cfg Config) (*Consumer, error) {
	if cfg.Stream == "" || cfg.Group == "" || cfg.Consumer == "" {
		return nil, errors.New("stream, group and consumer must be set")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("batch size must be > 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.PendingEvery <= 0 {
		cfg.PendingEvery = 5 * time.Second
	}
	return &Consumer{
		rdb:   rdb,
		store: st,
		cfg:   cfg,
		done:  make(chan struct{}),
	}, nil
}

// EnsureGroup creates the consumer group (and the stream, if missing).
// Safe to call when the group already exists.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *Consumer) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running.Store(true)

	go func() {
		defer close(c.done)

		slog.Info("ingest consumer started",
			"stream", c.cfg.Stream, "group", c.cfg.Group, "consumer", c.cfg.Consumer)

		// Entries delivered but never acknowledged (crash, persist
		// failure) sit in this consumer's pending list; XREADGROUP ">"
		// never returns them again, so they are reprocessed here at
		// startup and then on every PendingEvery tick.
		if _, err := c.ProcessPending(ctx); err != nil && ctx.Err() == nil {
			slog.Error("pending reprocess failed", "error", err)
		}

		retry := time.NewTicker(c.cfg.PendingEvery)
		defer retry.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("ingest consumer stopping")
				return
			case <-retry.C:
				if _, err := c.ProcessPending(ctx); err != nil && ctx.Err() == nil {
					slog.Error("pending reprocess failed", "error", err)
				}
			default:
			}

			if _, err := c.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("ingest read failed", "error", err)
				time.Sleep(time.Second)
			}
		}
	}()

	return true
}

func (c *Consumer) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return false
	}

	c.cancel()
	<-c.done
	c.running.Store(false)

	slog.Info("ingest consumer stopped")
	return true
}

func (c *Consumer) IsRunning() bool {
	return c.running.Load()
}

// ProcessOnce reads at most one batch from the group and handles each entry.
// Returns the number of entries seen. Exposed so tests can drive the
// consumer without the blocking loop.
func (c *Consumer) ProcessOnce(ctx context.Context) (int, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    int64(c.cfg.BatchSize),
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	return c.handleAll(ctx, res), nil
}

// ProcessPending re-handles this consumer's unacknowledged entries, walking
// the whole pending list in batches. The cursor advances past entries that
// fail again, so one broken event cannot wedge the walk; it is retried on
// the next run. The merge makes reprocessing an already-applied event a
// no-op, so this is safe to run at any time.
func (c *Consumer) ProcessPending(ctx context.Context) (int, error) {
	var total int
	cursor := "0"
	for {
		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, cursor},
			Count:    int64(c.cfg.BatchSize),
			Block:    -1,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return total, nil
			}
			return total, err
		}

		var batch int
		for _, stream := range res {
			for _, entry := range stream.Messages {
				batch++
				cursor = entry.ID
			}
		}
		if batch == 0 {
			return total, nil
		}

		c.handleAll(ctx, res)
		total += batch

		if batch < c.cfg.BatchSize {
			return total, nil
		}
	}
}

func (c *Consumer) handleAll(ctx context.Context, res []redis.XStream) int {
	var n int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, stream := range res {
		for _, entry := range stream.Messages {
			n++
			g.Go(func() error {
				c.handle(gctx, entry)
				return nil
			})
		}
	}
	_ = g.Wait()
	return n
}

// handle merges one stream entry. Any persistence failure leaves the entry
// unacknowledged so the group redelivers it.
func (c *Consumer) handle(ctx context.Context, entry redis.XMessage) {
	payload, ok := entry.Values["payload"].(string)
	if !ok {
		slog.Error("event entry has no payload field", "entry", entry.ID)
		c.ack(ctx, entry.ID)
		return
	}

	var ev model.StatusEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		slog.Error("undecodable event, dropping", "entry", entry.ID, "error", err)
		c.ack(ctx, entry.ID)
		return
	}
	if ev.CorrelationID == "" || ev.Status == "" {
		slog.Error("event missing correlationId or status, dropping", "entry", entry.ID)
		c.ack(ctx, entry.ID)
		return
	}

	msg, decision, err := c.store.Upsert(ctx, ev)
	if err != nil {
		slog.Error("persist failed, leaving event pending",
			"entry", entry.ID, "correlationId", ev.CorrelationID, "error", err)
		return
	}

	c.ack(ctx, entry.ID)

	switch decision {
	case model.Discard:
		slog.Info("event discarded by merge policy",
			"correlationId", ev.CorrelationID, "status", ev.Status, "stored", msg.Status)
	default:
		slog.Info("event applied",
			"correlationId", ev.CorrelationID, "status", msg.Status, "decision", decision.String())
		c.publishPush(ctx, msg)
	}
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		// Redelivery of an already-merged event is safe, so only log.
		slog.Error("ack failed", "entry", id, "error", err)
	}
}

// publishPush notifies any subscribed client about the state change.
// Best effort: pollers cover clients the channel misses.
func (c *Consumer) publishPush(ctx context.Context, msg model.Message) {
	if msg.Recipient == "" {
		return
	}
	b, err := json.Marshal(model.PushEvent{
		CorrelationID: msg.CorrelationKey(),
		Status:        msg.Status,
	})
	if err != nil {
		return
	}
	channel := c.cfg.PushChannelPrefix + msg.Recipient
	if err := c.rdb.Publish(ctx, channel, b).Err(); err != nil {
		slog.Error("push publish failed", "channel", channel, "error", err)
	}
}

// AppendEvent places a delivery-status event on the stream. Producers and
// tests share this so the wire format has a single definition.
func AppendEvent(ctx context.Context, rdb *redis.Client, stream string, ev model.StatusEvent) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"payload": string(b)},
	}).Result()
}
