package store

import (
	"context"
	"sync"
	"time"

	"smsync/internal/model"
)

type MemoryProfileStore struct {
	mu       sync.Mutex
	profiles map[string]model.Profile
}

var _ ProfileStore = (*MemoryProfileStore)(nil)

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles: make(map[string]model.Profile),
	}
}

func (s *MemoryProfileStore) Get(ctx context.Context, phoneNumber string) (model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return model.Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[phoneNumber]
	if !ok {
		return model.Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (s *MemoryProfileStore) Create(ctx context.Context, p model.Profile) (model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return model.Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.PhoneNumber]; ok {
		return model.Profile{}, ErrProfileExists
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.profiles[p.PhoneNumber] = p
	return p, nil
}

func (s *MemoryProfileStore) Update(ctx context.Context, phoneNumber string, p model.Profile) (model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return model.Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[phoneNumber]
	if !ok {
		return model.Profile{}, ErrProfileNotFound
	}
	existing.Name = p.Name
	existing.Avatar = p.Avatar
	existing.UpdatedAt = time.Now().UTC()
	s.profiles[phoneNumber] = existing
	return existing, nil
}
