// Package notify delivers reminder and confirmation messages through an
// external template-message provider. Delivery failure is reported in the
// Result and is never fatal to the caller: state mutations are committed
// before any send is attempted.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Message is a provider-templated message or a plain text body.
type Message struct {
	Template  string            `json:"template,omitempty"`
	Body      string            `json:"body,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Success    bool
	ProviderID string
	Reason     string
}

// Notifier sends one message to one recipient (phone number or email).
type Notifier interface {
	Send(ctx context.Context, to string, msg Message) Result
}

type Client struct {
	apiKey     string
	sender     string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(apiKey, sender, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		sender:     sender,
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type sendRequest struct {
	From      string            `json:"from"`
	To        string            `json:"to"`
	Template  string            `json:"template,omitempty"`
	Body      string            `json:"body,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send posts the message to the provider, retrying transient failures a
// couple of times with constant backoff.
func (c *Client) Send(ctx context.Context, to string, msg Message) Result {
	if !c.Configured() {
		return Result{Reason: "notifier not configured: missing api key"}
	}

	payload, err := json.Marshal(sendRequest{
		From:      c.sender,
		To:        to,
		Template:  msg.Template,
		Body:      msg.Body,
		Variables: msg.Variables,
	})
	if err != nil {
		return Result{Reason: fmt.Sprintf("marshal message: %v", err)}
	}

	var providerID string
	backoff := retry.WithMaxRetries(2, retry.NewConstant(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("provider error: status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("provider rejected message: status %d", resp.StatusCode)
		}

		var body sendResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			providerID = body.ID
		}
		return nil
	})
	if err != nil {
		return Result{Reason: err.Error()}
	}
	return Result{Success: true, ProviderID: providerID}
}
