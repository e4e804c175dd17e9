package client

import (
	"context"
	"log/slog"
	"time"

	"smsync/internal/model"
)

// DefaultPushRetryDelay is how long an unmatched push event waits before
// forcing a refresh, covering the race between send and subscription setup.
const DefaultPushRetryDelay = 250 * time.Millisecond

// SyncerConfig tunes the reconciliation behaviour; zero values select
// defaults.
type SyncerConfig struct {
	StaleAfter     time.Duration
	PollDelays     []time.Duration
	PushRetryDelay time.Duration
}

// Syncer keeps one consistent message view per recipient. Both notification
// paths (the per-send poll sequence and the push channel) converge on the
// same reconcile step, so the view never depends on which path fired first.
type Syncer struct {
	api    *APIClient
	sender *SenderClient
	rec    *Reconciler
	poller *Poller

	pushRetryDelay time.Duration
	onView         func(recipient string, view []model.Message)
}

// NewSyncer builds a Syncer. onView receives every updated merged view; it
// is invoked from multiple goroutines and must be safe for that.
func NewSyncer(api *APIClient, sender *SenderClient, onView func(string, []model.Message), cfg SyncerConfig) *Syncer {
	if cfg.PushRetryDelay <= 0 {
		cfg.PushRetryDelay = DefaultPushRetryDelay
	}

	s := &Syncer{
		api:            api,
		sender:         sender,
		rec:            NewReconciler(cfg.StaleAfter),
		pushRetryDelay: cfg.PushRetryDelay,
		onView:         onView,
	}
	s.poller = NewPoller(cfg.PollDelays, s.checkFor, s.refreshQuietly)
	return s
}

// Send submits the text, makes the optimistic entry visible immediately and
// starts the poll sequence that hunts for its persisted counterpart. On
// error nothing is recorded, so the caller can surface the failure and
// retry with the input intact.
func (s *Syncer) Send(ctx context.Context, recipient, text string) (model.Message, error) {
	res, err := s.sender.Send(ctx, recipient, text)
	if err != nil {
		return model.Message{}, err
	}

	optimistic := model.Message{
		ID:            "local-" + res.CorrelationID,
		CorrelationID: res.CorrelationID,
		Recipient:     recipient,
		Text:          text,
		Status:        model.Pending,
		CreatedAt:     res.Timestamp,
	}
	s.rec.AddOptimistic(optimistic)
	s.emit(recipient, s.rec.View(recipient))

	s.poller.Schedule(recipient, res.CorrelationID)
	return optimistic, nil
}

// Refresh fetches the recipient's authoritative list, reconciles and emits
// the merged view.
func (s *Syncer) Refresh(ctx context.Context, recipient string) error {
	persisted, err := s.api.ListMessages(ctx, recipient)
	if err != nil {
		return err
	}
	s.emit(recipient, s.rec.Reconcile(recipient, persisted))
	return nil
}

// HandlePush applies one push event. Events with no matching local entry
// are not dropped: a short-delay refresh covers sends this client has not
// recorded yet (e.g. raced with subscription setup).
func (s *Syncer) HandlePush(recipient string, ev model.PushEvent) {
	if s.rec.ApplyPush(recipient, ev.CorrelationID, ev.Status) {
		s.emit(recipient, s.rec.View(recipient))
		return
	}

	time.AfterFunc(s.pushRetryDelay, func() {
		s.refreshQuietly(context.Background(), recipient)
	})
}

// CancelPolls stops all in-flight poll sequences.
func (s *Syncer) CancelPolls() {
	s.poller.CancelAll()
}

// checkFor is the poller's per-attempt probe: one fetch, and a full
// reconcile as soon as the correlation key shows up persisted.
func (s *Syncer) checkFor(ctx context.Context, recipient, correlationKey string) (bool, error) {
	persisted, err := s.api.ListMessages(ctx, recipient)
	if err != nil {
		return false, err
	}

	for _, m := range persisted {
		if m.CorrelationKey() == correlationKey {
			s.emit(recipient, s.rec.Reconcile(recipient, persisted))
			return true, nil
		}
	}
	return false, nil
}

func (s *Syncer) refreshQuietly(ctx context.Context, recipient string) {
	if err := s.Refresh(ctx, recipient); err != nil {
		slog.Debug("refresh failed", "recipient", recipient, "error", err)
	}
}

func (s *Syncer) emit(recipient string, view []model.Message) {
	if s.onView != nil {
		s.onView(recipient, view)
	}
}
