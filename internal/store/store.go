package store

import (
	"context"
	"errors"

	"smsync/internal/model"
)

// ErrUnavailable marks a storage-layer outage, as opposed to a request the
// store understood but could not satisfy. Callers decide whether to degrade.
var ErrUnavailable = errors.New("store unavailable")

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileExists   = errors.New("profile already exists")
)

// MessageStore is the durable per-recipient message log.
//
// Upsert is idempotent by correlation key: replaying the same event, or
// delivering events out of order, never creates a second record and never
// regresses a terminal status. Implementations must make the
// read-merge-write atomic per key.
type MessageStore interface {
	Upsert(ctx context.Context, ev model.StatusEvent) (model.Message, model.Decision, error)
	FindByRecipient(ctx context.Context, recipient string) ([]model.Message, error)
	DeleteByRecipient(ctx context.Context, recipient string) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	ListDistinctRecipients(ctx context.Context) ([]string, error)
}

type ProfileStore interface {
	Get(ctx context.Context, phoneNumber string) (model.Profile, error)
	Create(ctx context.Context, p model.Profile) (model.Profile, error)
	Update(ctx context.Context, phoneNumber string, p model.Profile) (model.Profile, error)
}
