package model

import "time"

// Profile is contact metadata for a phone number. PhoneNumber is the key.
type Profile struct {
	PhoneNumber string    `json:"phoneNumber"`
	Name        string    `json:"name"`
	Avatar      string    `json:"avatar"` // URL or base64 encoded image
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
