package model

import "time"

type Status string

const (
	// Pending exists only client-side, between send and first server sighting.
	Pending  Status = "PENDING"
	Received Status = "RECEIVED"
	Success  Status = "SUCCESS"
	Failed   Status = "FAILED"
)

// Terminal reports whether the status may never be overwritten again.
func (s Status) Terminal() bool {
	return s == Success || s == Failed
}

type Message struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Recipient     string    `json:"recipient"`
	Text          string    `json:"text"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	LastEventAt   time.Time `json:"-"`
}

// CorrelationKey is the identity under which the optimistic and persisted
// copies of one logical send collapse. Messages created without a prior
// send (e.g. inbound) have no correlation id and key on their own id.
func (m Message) CorrelationKey() string {
	if m.CorrelationID != "" {
		return m.CorrelationID
	}
	return m.ID
}

// StatusEvent is one entry on the delivery-status stream.
// Recipient and Text are only meaningful on events that may arrive before
// any record of the send exists; updates ignore them.
type StatusEvent struct {
	CorrelationID string    `json:"correlationId"`
	Status        Status    `json:"status"`
	EventTime     time.Time `json:"eventTime"`
	Recipient     string    `json:"recipient,omitempty"`
	Text          string    `json:"text,omitempty"`
}

// PushEvent is the payload published on a recipient's push channel after a
// status change is persisted.
type PushEvent struct {
	CorrelationID string `json:"correlationId"`
	Status        Status `json:"status"`
}
