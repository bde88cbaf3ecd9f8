// Package printful submits orders to the Printful fulfillment API and
// verifies its webhooks.
package printful

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const DefaultBaseURL = "https://api.printful.com"

const maxResponseBytes = 1 << 20

// ErrOrderNotFound is returned by GetOrder when no provider order carries
// the external id.
var ErrOrderNotFound = errors.New("printful order not found")

// APIError is a non-2xx response. Body holds the raw provider response for
// logging; it is never shown to customers.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("printful api error: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("printful api error: %d", e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	storeID     string
	maxRetries  uint64
	baseBackoff time.Duration
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithStoreID(storeID string) Option {
	return func(c *Client) {
		c.storeID = storeID
	}
}

// WithRetry sets how many times transient failures are retried and the
// initial exponential backoff.
func WithRetry(maxRetries uint64, baseBackoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		if baseBackoff > 0 {
			c.baseBackoff = baseBackoff
		}
	}
}

func NewClient(httpClient *http.Client, apiKey string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		httpClient:  httpClient,
		baseURL:     DefaultBaseURL,
		apiKey:      apiKey,
		maxRetries:  2,
		baseBackoff: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Recipient struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	StateCode   string `json:"state_code"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
}

type Item struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type OrderRequest struct {
	ExternalID string    `json:"external_id,omitempty"`
	Recipient  Recipient `json:"recipient"`
	Items      []Item    `json:"items"`
}

type envelope struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type orderResult struct {
	ID         json.Number `json:"id"`
	ExternalID string      `json:"external_id"`
	Status     string      `json:"status"`
}

// CreatedOrder is the provider's acknowledgement of a submitted order.
type CreatedOrder struct {
	ID     string
	Status string
}

// CreateOrder submits an order as a draft. Network errors, 429 and 5xx
// responses are retried with exponential backoff. Creation is not
// idempotent, so every retry first looks the order up by its external id
// and returns the existing order when an earlier attempt already landed.
func (c *Client) CreateOrder(ctx context.Context, order OrderRequest) (*CreatedOrder, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("order has no items")
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	var created *CreatedOrder
	attempt := 0
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && order.ExternalID != "" {
			existing, err := c.send(ctx, http.MethodGet, orderPath(order.ExternalID), nil)
			switch {
			case err == nil:
				created = existing
				return nil
			case !isNotFound(err):
				return retryable(err)
			}
		}

		result, err := c.send(ctx, http.MethodPost, "/orders", payload)
		if err != nil {
			return retryable(err)
		}
		created = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetOrder retrieves an order by the external id it was created with. It
// returns ErrOrderNotFound when the provider has no such order.
func (c *Client) GetOrder(ctx context.Context, externalID string) (*CreatedOrder, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, fmt.Errorf("external id is required")
	}

	var found *CreatedOrder
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, err := c.send(ctx, http.MethodGet, orderPath(externalID), nil)
		if err != nil {
			return retryable(err)
		}
		found = result
		return nil
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: external id %s", ErrOrderNotFound, externalID)
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

// orderPath addresses an order by external id; Printful marks those with @.
func orderPath(externalID string) string {
	return "/orders/@" + url.PathEscape(externalID)
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// retryable marks everything except a permanent API rejection for retry.
func retryable(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() {
		return err
	}
	return retry.RetryableError(err)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*CreatedOrder, error) {
	body := io.Reader(http.NoBody)
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.storeID != "" {
		req.Header.Set("X-PF-Store-Id", c.storeID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("printful request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read printful response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		if decodeErr == nil && env.Error != nil {
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode printful response: %w", decodeErr)
	}

	var result orderResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode printful order: %w", err)
	}
	if result.ID.String() == "" {
		return nil, fmt.Errorf("printful response has no order id")
	}
	return &CreatedOrder{ID: result.ID.String(), Status: result.Status}, nil
}

// CountryCode maps the country spellings customers enter to the ISO code
// the provider expects.
func CountryCode(country string) string {
	c := strings.ToUpper(strings.TrimSpace(country))
	switch c {
	case "USA", "UNITED STATES", "UNITED STATES OF AMERICA":
		return "US"
	default:
		return c
	}
}
