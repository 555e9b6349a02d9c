/**
 * @description
 * This package provides a client for the upstream blockchain-data provider's
 * webhook-management API. The service maintains one shared webhook per
 * cluster; every registration call carries the full desired union of target
 * addresses and transaction categories plus the callback URL and the
 * cluster's shared secret, which the provider echoes back as the
 * Authorization header on future inbound pushes.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the provider's webhook-management endpoints.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new provider API client with a bounded request timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WebhookRequest is the payload for registering or replacing the shared
// webhook. AccountAddresses and TransactionTypes must be the complete union
// across all tenants; the provider replaces its filter set wholesale.
type WebhookRequest struct {
	WebhookURL       string   `json:"webhookURL"`
	TransactionTypes []string `json:"transactionTypes"`
	AccountAddresses []string `json:"accountAddresses"`
	WebhookType      string   `json:"webhookType"`
	TxnStatus        string   `json:"txnStatus"`
	AuthHeader       string   `json:"authHeader"`
}

// WebhookResponse is the provider's representation of the registered webhook.
type WebhookResponse struct {
	WebhookID        string   `json:"webhookID"`
	WebhookURL       string   `json:"webhookURL"`
	TransactionTypes []string `json:"transactionTypes"`
	AccountAddresses []string `json:"accountAddresses"`
}

// ErrorResponse represents an error body returned by the provider API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	ErrorText  string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	detail := e.Message
	if detail == "" {
		detail = e.ErrorText
	}
	if detail == "" {
		detail = "unknown provider api error"
	}
	return fmt.Sprintf("provider api error (status %d): %s", e.StatusCode, detail)
}

// UpsertWebhook registers the shared webhook for a cluster, replacing its
// filter set with the given union. The apiKey is cluster-specific.
func (c *Client) UpsertWebhook(ctx context.Context, apiKey string, req WebhookRequest) (*WebhookResponse, error) {
	if req.WebhookType == "" {
		req.WebhookType = "raw"
	}
	if req.TxnStatus == "" {
		req.TxnStatus = "all"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook request: %w", err)
	}

	url := fmt.Sprintf("%s/webhooks?api-key=%s", c.BaseURL, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call provider webhook api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil {
			log.Printf("level=warn component=provider_client msg=\"unparseable provider error body\" status=%d body=%s", resp.StatusCode, string(respBody))
		}
		return nil, apiErr
	}

	var webhook WebhookResponse
	if err := json.Unmarshal(respBody, &webhook); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return &webhook, nil
}
