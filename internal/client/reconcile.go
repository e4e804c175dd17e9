package client

import (
	"sort"
	"sync"
	"time"

	"smsync/internal/model"
)

// DefaultStaleAfter is how long an optimistic entry may wait for its
// persisted counterpart before it is treated as orphaned and dropped.
const DefaultStaleAfter = 2500 * time.Millisecond

type optimisticEntry struct {
	msg     model.Message
	addedAt time.Time
}

// Reconciler merges the server's authoritative message log with the locally
// fabricated optimistic entries into one duplicate-free, chronologically
// ordered view per recipient.
type Reconciler struct {
	mu         sync.Mutex
	staleAfter time.Duration
	now        func() time.Time

	pending   map[string][]optimisticEntry // by recipient
	persisted map[string][]model.Message   // last fetched snapshot, by recipient
}

func NewReconciler(staleAfter time.Duration) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Reconciler{
		staleAfter: staleAfter,
		now:        time.Now,
		pending:    make(map[string][]optimisticEntry),
		persisted:  make(map[string][]model.Message),
	}
}

// AddOptimistic registers a locally fabricated entry shown until its
// persisted counterpart appears.
func (r *Reconciler) AddOptimistic(msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending[msg.Recipient] = append(r.pending[msg.Recipient], optimisticEntry{
		msg:     msg,
		addedAt: r.now(),
	})
}

// ApplyPush advances the optimistic entry matching the pushed correlation
// id. Terminal statuses are sticky here as well. Returns false when no
// local entry matches, in which case the caller should refresh instead of
// dropping the event.
func (r *Reconciler) ApplyPush(recipient, correlationID string, status model.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.pending[recipient]
	for i := range entries {
		if entries[i].msg.CorrelationKey() != correlationID {
			continue
		}
		if !entries[i].msg.Status.Terminal() {
			entries[i].msg.Status = status
		}
		return true
	}
	return false
}

// Reconcile merges a fresh persisted list with the surviving optimistic
// entries and remembers both: superseded and stale optimistic entries are
// pruned for good, and the persisted list becomes the recipient's snapshot.
func (r *Reconciler) Reconcile(recipient string, persisted []model.Message) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.persisted[recipient] = persisted

	seen := make(map[string]struct{}, len(persisted))
	for _, m := range persisted {
		seen[m.CorrelationKey()] = struct{}{}
	}

	now := r.now()
	kept := r.pending[recipient][:0]
	for _, e := range r.pending[recipient] {
		if _, ok := seen[e.msg.CorrelationKey()]; ok {
			continue // superseded by the authoritative record
		}
		if now.Sub(e.addedAt) > r.staleAfter {
			continue // orphaned, presumed persisted but not yet visible
		}
		kept = append(kept, e)
	}
	r.pending[recipient] = kept

	return mergeViews(persisted, optimisticMessages(kept))
}

// View rebuilds the recipient's merged view from the last snapshot without
// fetching. Used right after a send, when the optimistic entry must become
// visible before any server round trip.
func (r *Reconciler) View(recipient string) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return mergeViews(r.persisted[recipient], optimisticMessages(r.pending[recipient]))
}

func optimisticMessages(entries []optimisticEntry) []model.Message {
	out := make([]model.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.msg)
	}
	return out
}

// mergeViews is the pure merge: persisted entries always win their
// correlation key, optimistic entries fill in only keys the server has not
// shown yet, and the result is ordered by creation time.
func mergeViews(persisted, optimistic []model.Message) []model.Message {
	byKey := make(map[string]model.Message, len(persisted)+len(optimistic))
	for _, m := range persisted {
		byKey[m.CorrelationKey()] = m
	}
	for _, m := range optimistic {
		if _, ok := byKey[m.CorrelationKey()]; !ok {
			byKey[m.CorrelationKey()] = m
		}
	}

	out := make([]model.Message, 0, len(byKey))
	for _, m := range byKey {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CorrelationKey() < out[j].CorrelationKey()
	})
	return out
}
