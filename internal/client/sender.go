package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"smsync/internal/model"
)

// SenderClient submits sends to the upstream SMS sender. The sender accepts
// the request synchronously and reports the delivery outcome later on the
// event stream; the returned correlation id joins the two.
type SenderClient struct {
	url    string
	client *http.Client
}

func NewSenderClient(url string) *SenderClient {
	return &SenderClient{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type sendResponse struct {
	Message   string    `json:"message"`
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// SendResult is the sender's synchronous acceptance of one send.
type SendResult struct {
	CorrelationID string
	Status        model.Status
	Timestamp     time.Time
}

func (c *SenderClient) Send(ctx context.Context, phoneNumber, message string) (SendResult, error) {
	reqBody, err := json.Marshal(sendRequest{
		PhoneNumber: phoneNumber,
		Message:     message,
	})
	if err != nil {
		return SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return SendResult{}, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return SendResult{}, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if sr.MessageID == "" {
		return SendResult{}, fmt.Errorf("missing messageId in response body=%q", string(body))
	}

	res := SendResult{
		CorrelationID: sr.MessageID,
		Status:        model.Status(sr.Status),
		Timestamp:     sr.Timestamp,
	}
	if res.Status == "" {
		res.Status = model.Received
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}
	return res, nil
}
