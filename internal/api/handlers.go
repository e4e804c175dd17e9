package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"smsync/internal/model"
	"smsync/internal/store"
)

type Handler struct {
	store    store.MessageStore
	profiles store.ProfileStore
}

func NewHandler(s store.MessageStore, ps store.ProfileStore) *Handler {
	return &Handler{store: s, profiles: ps}
}

/* ---------- helpers ---------- */

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

// recipientParam validates the path segment; empty or slash-containing
// values are rejected before they can reach the store as key fragments.
func recipientParam(r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.PathValue(name))
	if v == "" || strings.Contains(v, "/") {
		return "", false
	}
	return v, true
}

/* ---------- handlers ---------- */

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// ListRecipients returns every phone number that has at least one message.
func (h *Handler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := h.store.ListDistinctRecipients(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recipients)
}

// ListRecipientMessages returns one recipient's messages ascending by
// createdAt. Unknown recipients yield an empty array, not an error.
func (h *Handler) ListRecipientMessages(w http.ResponseWriter, r *http.Request) {
	recipient, ok := recipientParam(r, "recipient")
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid recipient")
		return
	}

	messages, err := h.store.FindByRecipient(r.Context(), recipient)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) DeleteRecipientMessages(w http.ResponseWriter, r *http.Request) {
	recipient, ok := recipientParam(r, "recipient")
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid recipient")
		return
	}

	deleted, err := h.store.DeleteByRecipient(r.Context(), recipient)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletedCount": deleted})
}

func (h *Handler) DeleteAllMessages(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteAll(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletedCount": deleted})
}

type createMessageRequest struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// CreateMessage inserts a message directly, bypassing the event stream.
// Such messages have no correlation id and key on their own id.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	req.Recipient = strings.TrimSpace(req.Recipient)
	req.Text = strings.TrimSpace(req.Text)

	if req.Recipient == "" || strings.Contains(req.Recipient, "/") {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid recipient")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "text is required")
		return
	}

	msg, _, err := h.store.Upsert(r.Context(), model.StatusEvent{
		Status:    model.Received,
		EventTime: time.Now().UTC(),
		Recipient: req.Recipient,
		Text:      req.Text,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

/* ---------- profiles ---------- */

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	phone, ok := recipientParam(r, "phoneNumber")
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid phoneNumber")
		return
	}

	p, err := h.profiles.Get(r.Context(), phone)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "profile not found for phone number: "+phone)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req model.Profile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.Name = strings.TrimSpace(req.Name)
	req.Avatar = strings.TrimSpace(req.Avatar)

	if req.PhoneNumber == "" || strings.Contains(req.PhoneNumber, "/") {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid phoneNumber")
		return
	}

	created, err := h.profiles.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrProfileExists) {
			writeError(w, http.StatusConflict, "CONFLICT", "profile already exists for phone number: "+req.PhoneNumber)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	phone, ok := recipientParam(r, "phoneNumber")
	if !ok {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid phoneNumber")
		return
	}

	var req model.Profile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Avatar = strings.TrimSpace(req.Avatar)

	updated, err := h.profiles.Update(r.Context(), phone, req)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "profile not found for phone number: "+phone)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
