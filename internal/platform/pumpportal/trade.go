package pumpportal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// DefaultTradeURL is the lightning transaction endpoint.
const DefaultTradeURL = "https://pumpportal.fun/api/trade"

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// TradeClient performs a single order submission against the pumpportal
// trade API. Retrying is the caller's concern.
type TradeClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewTradeClient creates a client for endpoint authenticated with apiKey.
// A zero timeout selects 30s.
func NewTradeClient(endpoint, apiKey string, timeout time.Duration) *TradeClient {
	if endpoint == "" {
		endpoint = DefaultTradeURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TradeClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit sends order and returns the transaction signature.
//
// Errors:
//   - *domain.APIError for a non-2xx response
//   - *domain.NetworkError for transport failures
//   - domain.ErrRejected for a 2xx response without a signature
func (c *TradeClient) Submit(ctx context.Context, order domain.OrderRequest) (string, error) {
	body, err := json.Marshal(NewTradeRequest(order))
	if err != nil {
		return "", fmt.Errorf("pumpportal: marshal trade: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("pumpportal: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.NetworkError{Op: "post trade", Err: err, Timeout: isTimeout(err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.NetworkError{Op: "read trade response", Err: err, Timeout: isTimeout(err)}
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return "", err
	}

	var tr TradeResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", fmt.Errorf("pumpportal: decode trade response: %w: %s", domain.ErrRejected, truncate(respBody))
	}
	if tr.Signature == "" {
		return "", fmt.Errorf("pumpportal: no signature in response: %w: %s", domain.ErrRejected, truncate(respBody))
	}
	return tr.Signature, nil
}

func (c *TradeClient) requestURL() string {
	if c.apiKey == "" {
		return c.endpoint
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return c.endpoint
	}
	q := u.Query()
	q.Set("api-key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// checkHTTPStatus maps non-success status codes to *domain.APIError.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return &domain.APIError{StatusCode: statusCode, Body: truncate(body)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
