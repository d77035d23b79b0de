package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"finlink/internal/shared/metrics"
	"finlink/internal/shared/resilience"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultKeyTTL    = 110 * time.Minute
	transactionsPage = 500
	apiKeyHeader     = "X-API-KEY"
)

var tracer = otel.Tracer("finlink/openfinance")

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	APIKeyTTL    time.Duration
	Retry        resilience.Config
}

// Client handles communication with the Open Finance aggregator API
type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	keyTTL       time.Duration
	retry        resilience.Config
	breaker      *gobreaker.CircuitBreaker
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	mu        sync.Mutex
	apiKey    string
	apiKeyExp time.Time
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new aggregator client. m may be nil.
func NewClient(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := cfg.APIKeyTTL
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		keyTTL:       ttl,
		retry:        cfg.Retry,
		breaker: resilience.NewCircuitBreaker("openfinance", func(err error) bool {
			return err == nil || isClientError(err)
		}),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// GetConnector fetches an institution with its credential descriptors
func (c *Client) GetConnector(ctx context.Context, connectorID int) (*Connector, error) {
	var connector Connector
	if err := c.get(ctx, "connectors", "/connectors/"+strconv.Itoa(connectorID), &connector); err != nil {
		return nil, err
	}
	return &connector, nil
}

// CreateItem submits credentials and creates a connection. Never retried.
func (c *Client) CreateItem(ctx context.Context, req CreateItemRequest) (*Item, error) {
	var item Item
	if err := c.write(ctx, "items", http.MethodPost, "/items", req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItem fetches the current snapshot of a connection
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	var item Item
	if err := c.get(ctx, "items", "/items/"+url.PathEscape(itemID), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// PollItem is GetItem without the retry loop. Status polling counts its own
// attempts, so each call here is exactly one GET (plus a re-auth on 401).
func (c *Client) PollItem(ctx context.Context, itemID string) (*Item, error) {
	var item Item
	if err := c.getOnce(ctx, "items", "/items/"+url.PathEscape(itemID), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// SubmitMFA answers the pending parameter of an item. Never retried.
func (c *Client) SubmitMFA(ctx context.Context, itemID string, values map[string]string) (*Item, error) {
	var item Item
	if err := c.write(ctx, "items_mfa", http.MethodPatch, "/items/"+url.PathEscape(itemID)+"/mfa", values, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	return c.write(ctx, "items", http.MethodDelete, "/items/"+url.PathEscape(itemID), nil, nil)
}

// ListAccounts fetches every account under an item
func (c *Client) ListAccounts(ctx context.Context, itemID string) ([]Account, error) {
	q := url.Values{}
	q.Set("itemId", itemID)

	var resp AccountResponse
	if err := c.get(ctx, "accounts", "/accounts?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ListTransactions fetches all pages of transactions for an account in [from, to]
func (c *Client) ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	var all []Transaction
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("accountId", accountID)
		q.Set("from", from.Format("2006-01-02"))
		q.Set("to", to.Format("2006-01-02"))
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(transactionsPage))

		var resp TransactionResponse
		if err := c.get(ctx, "transactions", "/transactions?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch transactions page %d: %w", page, err)
		}
		all = append(all, resp.Results...)

		if resp.TotalPages <= page || len(resp.Results) == 0 {
			return all, nil
		}
	}
}

// get runs an idempotent read through the breaker, retrying transient failures inside it.
func (c *Client) get(ctx context.Context, endpoint, path string, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, resilience.Retry(ctx, c.retry, func() error {
			err := c.do(ctx, endpoint, http.MethodGet, path, nil, out)
			if isClientError(err) {
				return resilience.Permanent(err)
			}
			return err
		})
	})
	if err != nil {
		c.metrics.IncAggregatorError(endpoint)
		if resilience.IsOpen(err) {
			return fmt.Errorf("aggregator unavailable: %w", err)
		}
		return err
	}
	return nil
}

// getOnce runs a single read through the breaker.
func (c *Client) getOnce(ctx context.Context, endpoint, path string, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, endpoint, http.MethodGet, path, nil, out)
	})
	if err != nil {
		c.metrics.IncAggregatorError(endpoint)
		if resilience.IsOpen(err) {
			return fmt.Errorf("aggregator unavailable: %w", err)
		}
		return err
	}
	return nil
}

func (c *Client) write(ctx context.Context, endpoint, method, path string, body, out any) error {
	if err := c.do(ctx, endpoint, method, path, body, out); err != nil {
		c.metrics.IncAggregatorError(endpoint)
		return err
	}
	return nil
}

// do sends one request, exchanging the API key first when needed and once
// more if the aggregator answers 401.
func (c *Client) do(ctx context.Context, endpoint, method, path string, body, out any) error {
	ctx, span := tracer.Start(ctx, "openfinance."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("openfinance.endpoint", endpoint),
		),
	)
	defer span.End()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	key, err := c.key(ctx, false)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	status, respBody, err := c.send(ctx, method, path, payload, key)
	if err == nil && status == http.StatusUnauthorized {
		c.logger.Info("aggregator rejected api key, re-authenticating", zap.String("endpoint", endpoint))
		if key, err = c.key(ctx, true); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		status, respBody, err = c.send(ctx, method, path, payload, key)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("http.status_code", status))

	if status < 200 || status >= 300 {
		apiErr := parseAPIError(status, respBody)
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, key string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, key)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// key returns the cached API key, exchanging client credentials when the
// cache is empty, expired, or force is set.
func (c *Client) key(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.apiKey != "" && c.now().Before(c.apiKeyExp) {
		return c.apiKey, nil
	}

	payload, err := json.Marshal(authRequest{ClientID: c.clientID, ClientSecret: c.clientSecret})
	if err != nil {
		return "", fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read auth response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.IncAggregatorError("auth")
		return "", parseAPIError(resp.StatusCode, body)
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return "", fmt.Errorf("failed to unmarshal auth response: %w", err)
	}
	if auth.APIKey == "" {
		return "", errors.New("auth response has no apiKey")
	}

	c.apiKey = auth.APIKey
	c.apiKeyExp = c.now().Add(c.keyTTL)
	return c.apiKey, nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	apiErr.Message = errResp.Message
	apiErr.Code = errResp.CodeDescription
	if apiErr.Code == "" && len(errResp.Code) > 0 {
		apiErr.Code = strings.Trim(string(errResp.Code), `"`)
	}
	return apiErr
}
