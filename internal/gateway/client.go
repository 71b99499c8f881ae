// Package gateway wraps the external payment gateway's authorization
// resource: retrieve, update amount, capture, cancel. All calls go through
// the backoff retrier with the gateway-specific retry classification.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	domerrors "github.com/storefront/orderedit/pkg/errors"
	"github.com/storefront/orderedit/pkg/logger"
)

// Authorization statuses.
const (
	StatusRequiresCapture = "requires_capture"
	StatusSucceeded       = "succeeded"
	StatusCanceled        = "canceled"
)

// Authorization is the gateway's snapshot of a payment hold.
type Authorization struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Currency       string `json:"currency"`
	CaptureMethod  string `json:"capture_method"`
}

type apiError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// transportError marks connectivity failures, 5xx and 429 responses.
// Only these are retried.
type transportError struct {
	status int
	cause  error
}

func (e *transportError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("gateway transport error: %v", e.cause)
	}
	return fmt.Sprintf("gateway transport error: status %d", e.status)
}

func (e *transportError) Unwrap() error { return e.cause }

// ShouldRetry classifies gateway errors: card/validation errors are never
// retried, connectivity errors, 5xx and 429 are.
func ShouldRetry(err error) bool {
	var te *transportError
	return stderrors.As(err, &te)
}

// Client is the typed wrapper over the gateway HTTP API. One client per
// process, constructed by the entry point and injected where needed.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   RetryOptions
	log     *logger.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := DefaultRetryOptions
	retry.ShouldRetry = ShouldRetry
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
		log:     log,
	}
}

// SetRetryHook 注册每次重试触发的回调，入口处接监控计数器
func (c *Client) SetRetryHook(fn func()) {
	c.retry.OnRetry = fn
}

// Retrieve fetches the current authorization snapshot.
func (c *Client) Retrieve(ctx context.Context, authorizationID string) (*Authorization, error) {
	return c.do(ctx, http.MethodGet, "/v1/authorizations/"+authorizationID, nil, "")
}

// UpdateAmount changes the authorized amount. The idempotency key makes a
// retried call a no-op at the gateway instead of a second adjustment.
func (c *Client) UpdateAmount(ctx context.Context, authorizationID string, amount int64, idempotencyKey string) (*Authorization, error) {
	body := map[string]int64{"amount": amount}
	return c.do(ctx, http.MethodPost, "/v1/authorizations/"+authorizationID, body, idempotencyKey)
}

// Capture collects the previously authorized funds.
func (c *Client) Capture(ctx context.Context, authorizationID string) (*Authorization, error) {
	return c.do(ctx, http.MethodPost, "/v1/authorizations/"+authorizationID+"/capture", nil, "")
}

// Cancel voids the authorization, releasing the hold.
func (c *Client) Cancel(ctx context.Context, authorizationID string) (*Authorization, error) {
	return c.do(ctx, http.MethodPost, "/v1/authorizations/"+authorizationID+"/cancel", nil, "")
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, idempotencyKey string) (*Authorization, error) {
	var auth *Authorization
	err := Retry(ctx, c.retry, func(ctx context.Context) error {
		a, err := c.doOnce(ctx, method, path, body, idempotencyKey)
		if err != nil {
			return err
		}
		auth = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return auth, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}, idempotencyKey string) (*Authorization, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &transportError{cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{cause: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var auth Authorization
		if err := json.Unmarshal(respBody, &auth); err != nil {
			return nil, fmt.Errorf("decode authorization: %w", err)
		}
		return &auth, nil
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &transportError{status: resp.StatusCode}
	}

	var envelope errorEnvelope
	_ = json.Unmarshal(respBody, &envelope)
	return nil, c.translate(resp.StatusCode, envelope.Error)
}

// translate turns a gateway error response into a typed domain error.
func (c *Client) translate(status int, apiErr apiError) error {
	switch {
	case apiErr.Type == "card_error" || status == http.StatusPaymentRequired:
		msg, retryable := DeclineMessage(apiErr.DeclineCode)
		return domerrors.NewCardDeclined(apiErr.DeclineCode, msg, retryable)
	case apiErr.Type == "idempotency_error" || apiErr.Code == "idempotency_key_in_use":
		return domerrors.New(domerrors.CodeIdempotencyConflict, "idempotency key already used with different parameters")
	case status == http.StatusNotFound:
		return domerrors.Newf(domerrors.CodeNotFound, "authorization not found: %s", apiErr.Message)
	default:
		return domerrors.Newf(domerrors.CodeInvalidParam, "gateway rejected request: %s", apiErr.Message)
	}
}
