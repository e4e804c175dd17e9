package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"smsync/internal/model"
)

// MemoryStore keeps the message log in process memory. Used by tests and
// as a storage backend for local development.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[string]*model.Message // by correlation key
}

var _ MessageStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*model.Message),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, ev model.StatusEvent) (model.Message, model.Decision, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, model.Discard, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := ev.CorrelationID

	var existing *model.Message
	if key != "" {
		existing = s.messages[key]
	}

	switch d := model.Merge(existing, ev); d {
	case model.Insert:
		m := model.Message{
			ID:            "msg-" + uuid.NewString(),
			CorrelationID: ev.CorrelationID,
			Recipient:     ev.Recipient,
			Text:          ev.Text,
			Status:        ev.Status,
			CreatedAt:     ev.EventTime,
			LastEventAt:   ev.EventTime,
		}
		if key == "" {
			key = m.ID
		}
		s.messages[key] = &m
		return m, model.Insert, nil
	case model.Apply:
		existing.Status = ev.Status
		existing.LastEventAt = ev.EventTime
		return *existing, model.Apply, nil
	default:
		return *existing, model.Discard, nil
	}
}

func (s *MemoryStore) FindByRecipient(ctx context.Context, recipient string) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Message, 0)
	for _, m := range s.messages {
		if m.Recipient == recipient {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DeleteByRecipient(ctx context.Context, recipient string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, m := range s.messages {
		if m.Recipient == recipient {
			delete(s.messages, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.messages))
	s.messages = make(map[string]*model.Message)
	return n, nil
}

func (s *MemoryStore) ListDistinctRecipients(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, m := range s.messages {
		if _, ok := seen[m.Recipient]; ok {
			continue
		}
		seen[m.Recipient] = struct{}{}
		out = append(out, m.Recipient)
	}
	sort.Strings(out)
	return out, nil
}
