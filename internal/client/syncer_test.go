package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"smsync/internal/api"
	"smsync/internal/model"
	"smsync/internal/store"
)

// viewSink captures every emitted view per recipient.
type viewSink struct {
	mu    sync.Mutex
	views map[string][][]model.Message
}

func newViewSink() *viewSink {
	return &viewSink{views: make(map[string][][]model.Message)}
}

func (v *viewSink) onView(recipient string, view []model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.views[recipient] = append(v.views[recipient], view)
}

func (v *viewSink) latest(recipient string) []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	all := v.views[recipient]
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (v *viewSink) all(recipient string) [][]model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]model.Message(nil), v.views[recipient]...)
}

func newSyncerFixture(t *testing.T, cfg SyncerConfig) (*store.MemoryStore, *viewSink, *Syncer) {
	t.Helper()

	ms := store.NewMemoryStore()
	apiSrv := httptest.NewServer(api.Router(api.NewHandler(ms, store.NewMemoryProfileStore())))
	t.Cleanup(apiSrv.Close)

	senderSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PhoneNumber string `json:"phoneNumber"`
			Message     string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad send request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":   "Accepted",
			"messageId": "r1",
			"status":    "RECEIVED",
			"timestamp": time.Now().UTC(),
		})
	}))
	t.Cleanup(senderSrv.Close)

	sink := newViewSink()
	s := NewSyncer(NewAPIClient(apiSrv.URL), NewSenderClient(senderSrv.URL), sink.onView, cfg)
	t.Cleanup(s.CancelPolls)

	return ms, sink, s
}

func TestSyncer_SendShowsOptimisticEntryImmediately(t *testing.T) {
	t.Parallel()

	_, sink, s := newSyncerFixture(t, SyncerConfig{
		PollDelays: []time.Duration{time.Hour}, // keep the poller out of this test
	})

	msg, err := s.Send(context.Background(), "+15551234567", "hi")
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if msg.Status != model.Pending || msg.CorrelationID != "r1" {
		t.Fatalf("unexpected optimistic message %+v", msg)
	}

	view := sink.latest("+15551234567")
	if len(view) != 1 {
		t.Fatalf("expected optimistic entry visible before any fetch, got %+v", view)
	}
	if view[0].Status != model.Pending || view[0].Text != "hi" {
		t.Fatalf("unexpected view entry %+v", view[0])
	}
}

func TestSyncer_PollReplacesOptimisticWithPersisted(t *testing.T) {
	t.Parallel()

	ms, sink, s := newSyncerFixture(t, SyncerConfig{
		PollDelays: shortDelays(4),
	})
	ctx := context.Background()

	if _, err := s.Send(ctx, "+15551234567", "hi"); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	// The delivery outcome lands server-side between poll attempts.
	if _, _, err := ms.Upsert(ctx, model.StatusEvent{
		CorrelationID: "r1", Status: model.Success, EventTime: time.Now().UTC(),
		Recipient: "+15551234567", Text: "hi",
	}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		view := sink.latest("+15551234567")
		return len(view) == 1 && view[0].Status == model.Success
	})

	// No intermediate view may ever have shown two entries for one send.
	for _, view := range sink.all("+15551234567") {
		keys := map[string]int{}
		for _, m := range view {
			keys[m.CorrelationKey()]++
		}
		if keys["r1"] > 1 {
			t.Fatalf("duplicate visible entries for one correlation key: %+v", view)
		}
	}
}

func TestSyncer_ExhaustedPollsFallBackToRefresh(t *testing.T) {
	t.Parallel()

	ms, sink, s := newSyncerFixture(t, SyncerConfig{
		PollDelays: shortDelays(2),
		StaleAfter: time.Millisecond, // the orphaned optimistic entry ages out fast
	})
	ctx := context.Background()

	if _, err := s.Send(ctx, "+15551234567", "hi"); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	// Nothing ever lands under the send's correlation id, but another
	// message exists; the fallback refresh must still surface it.
	if _, _, err := ms.Upsert(ctx, model.StatusEvent{
		CorrelationID: "other", Status: model.Received, EventTime: time.Now().UTC(),
		Recipient: "+15551234567", Text: "inbound",
	}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		view := sink.latest("+15551234567")
		return len(view) == 1 && view[0].CorrelationKey() == "other"
	})
}

func TestSyncer_HandlePushAdvancesMatchingEntry(t *testing.T) {
	t.Parallel()

	_, sink, s := newSyncerFixture(t, SyncerConfig{
		PollDelays: []time.Duration{time.Hour},
	})

	if _, err := s.Send(context.Background(), "+15551234567", "hi"); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	s.HandlePush("+15551234567", model.PushEvent{CorrelationID: "r1", Status: model.Success})

	view := sink.latest("+15551234567")
	if len(view) != 1 || view[0].Status != model.Success {
		t.Fatalf("expected push to advance the entry, got %+v", view)
	}
}

func TestSyncer_UnmatchedPushTriggersDelayedRefresh(t *testing.T) {
	t.Parallel()

	ms, sink, s := newSyncerFixture(t, SyncerConfig{
		PollDelays:     []time.Duration{time.Hour},
		PushRetryDelay: 10 * time.Millisecond,
	})
	ctx := context.Background()

	// A message this client never sent is already persisted.
	if _, _, err := ms.Upsert(ctx, model.StatusEvent{
		CorrelationID: "foreign", Status: model.Success, EventTime: time.Now().UTC(),
		Recipient: "+15551234567", Text: "elsewhere",
	}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	s.HandlePush("+15551234567", model.PushEvent{CorrelationID: "foreign", Status: model.Success})

	waitFor(t, 2*time.Second, func() bool {
		view := sink.latest("+15551234567")
		return len(view) == 1 && view[0].CorrelationKey() == "foreign"
	})
}

func TestSyncer_SendFailureRecordsNothing(t *testing.T) {
	t.Parallel()

	failingSender := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(failingSender.Close)

	ms := store.NewMemoryStore()
	apiSrv := httptest.NewServer(api.Router(api.NewHandler(ms, store.NewMemoryProfileStore())))
	t.Cleanup(apiSrv.Close)

	sink := newViewSink()
	s := NewSyncer(NewAPIClient(apiSrv.URL), NewSenderClient(failingSender.URL), sink.onView, SyncerConfig{})
	t.Cleanup(s.CancelPolls)

	if _, err := s.Send(context.Background(), "+15551234567", "hi"); err == nil {
		t.Fatalf("expected send failure")
	}
	if got := sink.all("+15551234567"); len(got) != 0 {
		t.Fatalf("failed send must not emit a view, got %+v", got)
	}
}
