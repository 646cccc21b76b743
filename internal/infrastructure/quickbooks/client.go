package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qbsync/backend/internal/domain/integration"
	"github.com/qbsync/backend/internal/infrastructure/telemetry"
)

// maxResponseSize is the maximum allowed response size from the API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// TokenProvider supplies bearer tokens and the connected company ID
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
	RealmID() string
}

// Client implements integration.AccountingGateway against QuickBooks Online
type Client struct {
	config     *Config
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	logger     *zap.Logger
	metrics    *telemetry.SyncMetrics
}

var _ integration.AccountingGateway = (*Client)(nil)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records request durations on m
func WithMetrics(m *telemetry.SyncMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a QuickBooks API client
func NewClient(cfg *Config, tokens TokenProvider, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, fmt.Errorf("%w: quickbooks: token provider is required", integration.ErrPlatformNotConfigured)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		config:     cfg,
		baseURL:    cfg.APIBaseURL(),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CompanyID returns the realm ID requests are sent to
func (c *Client) CompanyID() string {
	if realm := c.tokens.RealmID(); realm != "" {
		return realm
	}
	return c.config.RealmID
}

// Query runs a QuickBooks SQL-like query and decodes the response into out
func (c *Client) Query(ctx context.Context, query string, out any) error {
	return c.do(ctx, http.MethodGet, "query", url.Values{"query": {query}}, nil, out)
}

// EscapeQueryValue escapes a string literal for use inside a query
func EscapeQueryValue(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

// do sends one API request. A 401 invalidates the cached token and the
// request is retried once with a fresh one.
func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, payload, out any) error {
	realm := c.CompanyID()
	if realm == "" {
		return fmt.Errorf("%w: quickbooks: realm ID is not set", integration.ErrPlatformNotConfigured)
	}

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("quickbooks: failed to encode %s request: %w", endpoint, err)
		}
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("minorversion", strconv.Itoa(c.config.MinorVersion))
	endpointURL := fmt.Sprintf("%s/v3/company/%s/%s?%s", c.baseURL, url.PathEscape(realm), endpoint, params.Encode())

	ctx, span := telemetry.StartClient(ctx, "quickbooks."+endpoint, telemetry.SpanRequestMethod.String(method))
	defer span.End()

	for attempt := 0; ; attempt++ {
		status, respBody, err := c.send(ctx, method, endpoint, endpointURL, body)
		if err != nil {
			telemetry.Fail(span, err)
			return err
		}
		span.SetAttributes(telemetry.SpanResponseCode.Int(status))

		if status == http.StatusUnauthorized && attempt == 0 {
			c.logger.Warn("QuickBooks rejected access token, refreshing",
				zap.String("endpoint", endpoint))
			c.tokens.Invalidate()
			continue
		}
		if status >= 400 {
			apiErr := parseAPIError(status, respBody)
			c.logger.Error("QuickBooks request failed",
				zap.String("method", method),
				zap.String("endpoint", endpoint),
				zap.Int("status", status),
				zap.String("error", apiErr.Error()))
			telemetry.Fail(span, apiErr)
			return apiErr
		}
		if apiErr := faultInBody(status, respBody); apiErr != nil {
			telemetry.Fail(span, apiErr)
			return apiErr
		}
		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			err = fmt.Errorf("%w: %s: %v", integration.ErrPlatformInvalidResponse, endpoint, err)
			telemetry.Fail(span, err)
			return err
		}
		telemetry.Succeed(span)
		return nil
	}
}

func (c *Client) send(ctx context.Context, method, endpoint, endpointURL string, body []byte) (int, []byte, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpointURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("quickbooks: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", integration.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordAPIRequest(ctx, endpoint, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response: %v", integration.ErrPlatformUnavailable, err)
	}

	c.logger.Debug("QuickBooks request",
		zap.String("method", method),
		zap.String("url", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	return resp.StatusCode, respBody, nil
}
