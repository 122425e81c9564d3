package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrReceiptNotFound is returned when the server no longer holds a receipt,
// because it was completed already or swept after going idle.
var ErrReceiptNotFound = errors.New("receipt not found")

// Client talks to the sqlease HTTP API
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new sqlease client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// SendOptions for customizing a send
type SendOptions struct {
	Headers  map[string]string
	Priority int           // Higher is received first
	Delay    time.Duration // Not receivable before now + Delay
	TTL      time.Duration // Dropped from receives after now + TTL
}

// Message is a leased message. Complete it with Ack or Release.
type Message struct {
	ID          int64               `json:"id"`
	Receipt     string              `json:"receipt"`
	Headers     map[string]string   `json:"headers,omitempty"`
	Body        jsoniter.RawMessage `json:"body"`
	Priority    int                 `json:"priority"`
	LeasedUntil *time.Time          `json:"leased_until,omitempty"`
}

// Send marshals body to JSON and sends it to queue.
func (c *Client) Send(ctx context.Context, queue string, body any, opts *SendOptions) error {
	if opts == nil {
		opts = &SendOptions{}
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req := map[string]any{
		"body": jsoniter.RawMessage(bodyJSON),
	}
	if len(opts.Headers) > 0 {
		req["headers"] = opts.Headers
	}
	if opts.Priority != 0 {
		req["priority"] = opts.Priority
	}
	if opts.Delay > 0 {
		req["delay_ms"] = opts.Delay.Milliseconds()
	}
	if opts.TTL > 0 {
		req["ttl_ms"] = opts.TTL.Milliseconds()
	}

	return c.post(ctx, "/v1/queues/"+url.PathEscape(queue)+"/messages", req, http.StatusCreated, nil)
}

// Receive leases one message from queue. It returns nil, nil when the
// queue is empty.
func (c *Client) Receive(ctx context.Context, queue string) (*Message, error) {
	var out []*Message
	if err := c.post(ctx, "/v1/queues/"+url.PathEscape(queue)+":receive", struct{}{}, http.StatusOK, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// Ack deletes the message behind receipt.
func (c *Client) Ack(ctx context.Context, receipt string) error {
	return c.receiptAction(ctx, receipt, "ack")
}

// Release gives the message behind receipt back to the queue.
func (c *Client) Release(ctx context.Context, receipt string) error {
	return c.receiptAction(ctx, receipt, "release")
}

// Renew extends the lease behind receipt.
func (c *Client) Renew(ctx context.Context, receipt string) error {
	return c.receiptAction(ctx, receipt, "renew")
}

func (c *Client) receiptAction(ctx context.Context, receipt, action string) error {
	return c.post(ctx, "/v1/receipts/"+url.PathEscape(receipt)+":"+action, struct{}{}, http.StatusOK, nil)
}

func (c *Client) post(ctx context.Context, path string, in any, want int, out any) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/v1/receipts/") {
		return ErrReceiptNotFound
	}
	if resp.StatusCode != want {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed: %s - %s", path, resp.Status, string(bodyBytes))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
