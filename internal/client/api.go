package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"smsync/internal/model"
)

// APIClient talks to the smsync read API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ListMessages returns a recipient's persisted messages ascending by
// createdAt. Unknown recipients come back as an empty slice.
func (c *APIClient) ListMessages(ctx context.Context, recipient string) ([]model.Message, error) {
	var out []model.Message
	err := c.getJSON(ctx, "/v1/recipients/"+url.PathEscape(recipient)+"/messages", &out)
	return out, err
}

func (c *APIClient) ListRecipients(ctx context.Context) ([]string, error) {
	var out []string
	err := c.getJSON(ctx, "/v1/recipients", &out)
	return out, err
}

func (c *APIClient) PurgeRecipient(ctx context.Context, recipient string) (int64, error) {
	return c.deleteCounted(ctx, "/v1/recipients/"+url.PathEscape(recipient)+"/messages")
}

func (c *APIClient) PurgeAll(ctx context.Context) (int64, error) {
	return c.deleteCounted(ctx, "/v1/messages")
}

func (c *APIClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	return nil
}

func (c *APIClient) deleteCounted(ctx context.Context, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var dr struct {
		DeletedCount int64 `json:"deletedCount"`
	}
	if err := json.Unmarshal(body, &dr); err != nil {
		return 0, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	return dr.DeletedCount, nil
}
