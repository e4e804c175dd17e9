package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smsync/internal/model"
	"smsync/internal/store"
)

func newTestServer(t *testing.T) (*store.MemoryStore, http.Handler) {
	t.Helper()

	ms := store.NewMemoryStore()
	h := NewHandler(ms, store.NewMemoryProfileStore())
	return ms, Router(h)
}

func seed(t *testing.T, ms *store.MemoryStore, ev model.StatusEvent) {
	t.Helper()

	if _, _, err := ms.Upsert(context.Background(), ev); err != nil {
		t.Fatalf("seed upsert error: %v", err)
	}
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	t.Parallel()

	_, mux := newTestServer(t)

	rr := do(t, mux, http.MethodGet, "/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
}

func TestListRecipientMessages_EmptyIsOKNotError(t *testing.T) {
	t.Parallel()

	_, mux := newTestServer(t)

	rr := do(t, mux, http.MethodGet, "/v1/recipients/+19999999999/messages", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown recipient, got %d body=%q", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Fatalf("expected empty array, got %q", got)
	}
}

func TestListRecipientMessages_OrderedAscending(t *testing.T) {
	t.Parallel()

	ms, mux := newTestServer(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed(t, ms, model.StatusEvent{CorrelationID: "b", Status: model.Received, EventTime: base.Add(time.Minute), Recipient: "+1555", Text: "later"})
	seed(t, ms, model.StatusEvent{CorrelationID: "a", Status: model.Success, EventTime: base, Recipient: "+1555", Text: "earlier"})

	rr := do(t, mux, http.MethodGet, "/v1/recipients/+1555/messages", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	var msgs []model.Message
	if err := json.Unmarshal(rr.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode error: %v body=%q", err, rr.Body.String())
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "earlier" || msgs[1].Text != "later" {
		t.Fatalf("wrong order: %q then %q", msgs[0].Text, msgs[1].Text)
	}
}

func TestRecipientValidation(t *testing.T) {
	t.Parallel()

	_, mux := newTestServer(t)

	// Encoded slash decodes into the path value and must be rejected.
	rr := do(t, mux, http.MethodGet, "/v1/recipients/a%2Fb/messages", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for recipient with slash, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "BAD_REQUEST") {
		t.Fatalf("expected BAD_REQUEST code, got %q", rr.Body.String())
	}
}

func TestDeleteRecipientMessages_ScopedToRecipient(t *testing.T) {
	t.Parallel()

	ms, mux := newTestServer(t)
	now := time.Now().UTC()

	seed(t, ms, model.StatusEvent{CorrelationID: "a1", Status: model.Received, EventTime: now, Recipient: "+1111"})
	seed(t, ms, model.StatusEvent{CorrelationID: "a2", Status: model.Received, EventTime: now, Recipient: "+1111"})
	seed(t, ms, model.StatusEvent{CorrelationID: "b1", Status: model.Received, EventTime: now, Recipient: "+2222"})

	rr := do(t, mux, http.MethodDelete, "/v1/recipients/+1111/messages", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if n, _ := resp["deletedCount"].(float64); n != 2 {
		t.Fatalf("expected deletedCount=2, got %v", resp)
	}

	other, _ := ms.FindByRecipient(context.Background(), "+2222")
	if len(other) != 1 {
		t.Fatalf("expected other recipient untouched, got %d", len(other))
	}
}

func TestDeleteAllMessages(t *testing.T) {
	t.Parallel()

	ms, mux := newTestServer(t)
	now := time.Now().UTC()

	seed(t, ms, model.StatusEvent{CorrelationID: "a1", Status: model.Received, EventTime: now, Recipient: "+1111"})
	seed(t, ms, model.StatusEvent{CorrelationID: "b1", Status: model.Received, EventTime: now, Recipient: "+2222"})

	rr := do(t, mux, http.MethodDelete, "/v1/messages", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	recipients := do(t, mux, http.MethodGet, "/v1/recipients", "")
	if got := strings.TrimSpace(recipients.Body.String()); got != "[]" {
		t.Fatalf("expected no recipients after purge, got %q", got)
	}
}

func TestCreateMessage(t *testing.T) {
	t.Parallel()

	_, mux := newTestServer(t)

	rr := do(t, mux, http.MethodPost, "/v1/messages", `{"recipient":"+1555","text":"hi"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%q", rr.Code, rr.Body.String())
	}

	var msg model.Message
	if err := json.Unmarshal(rr.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.ID == "" || msg.Status != model.Received || msg.Recipient != "+1555" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.CorrelationID != "" {
		t.Fatalf("direct inserts must not carry a correlation id, got %q", msg.CorrelationID)
	}

	// Missing fields are rejected before the store sees them.
	for _, body := range []string{`{}`, `{"recipient":"+1555"}`, `{"text":"hi"}`, `not json`} {
		rr := do(t, mux, http.MethodPost, "/v1/messages", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestStorageUnavailableSurfacesAs503(t *testing.T) {
	t.Parallel()

	h := NewHandler(unavailableStore{}, store.NewMemoryProfileStore())
	mux := Router(h)

	rr := do(t, mux, http.MethodGet, "/v1/recipients/+1555/messages", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "STORAGE_UNAVAILABLE") {
		t.Fatalf("expected STORAGE_UNAVAILABLE code, got %q", rr.Body.String())
	}
}

type unavailableStore struct{}

var _ store.MessageStore = unavailableStore{}

func (unavailableStore) Upsert(context.Context, model.StatusEvent) (model.Message, model.Decision, error) {
	return model.Message{}, model.Discard, store.ErrUnavailable
}
func (unavailableStore) FindByRecipient(context.Context, string) ([]model.Message, error) {
	return nil, store.ErrUnavailable
}
func (unavailableStore) DeleteByRecipient(context.Context, string) (int64, error) {
	return 0, store.ErrUnavailable
}
func (unavailableStore) DeleteAll(context.Context) (int64, error) {
	return 0, store.ErrUnavailable
}
func (unavailableStore) ListDistinctRecipients(context.Context) ([]string, error) {
	return nil, store.ErrUnavailable
}

func TestProfileLifecycle(t *testing.T) {
	t.Parallel()

	_, mux := newTestServer(t)

	// Unknown profile is an explicit 404, unlike empty message lists.
	rr := do(t, mux, http.MethodGet, "/v1/profiles/+1555", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%q", rr.Code, rr.Body.String())
	}

	rr = do(t, mux, http.MethodPost, "/v1/profiles", `{"phoneNumber":"+1555","name":"Ada"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%q", rr.Code, rr.Body.String())
	}

	rr = do(t, mux, http.MethodPost, "/v1/profiles", `{"phoneNumber":"+1555","name":"Ada"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d body=%q", rr.Code, rr.Body.String())
	}

	rr = do(t, mux, http.MethodPut, "/v1/profiles/+1555", `{"name":"Ada L","avatar":"http://a"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	rr = do(t, mux, http.MethodGet, "/v1/profiles/+1555", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	var p model.Profile
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if p.Name != "Ada L" {
		t.Fatalf("expected updated name, got %+v", p)
	}
}

func TestRouterRoot(t *testing.T) {
	t.Parallel()

	_, mux := newTestServer(t)

	rr := do(t, mux, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "smsync" {
		t.Fatalf("expected body %q, got %q", "smsync", got)
	}
}
