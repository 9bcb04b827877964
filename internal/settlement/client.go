package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// Request asks the wallet side to resync a player's balance after a session.
type Request struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id,omitempty"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason"`
}

type Response struct {
	Balance int64 `json:"balance"`
}

// Service is the balance/settlement collaborator.
type Service interface {
	RequestResync(ctx context.Context, req Request) (*Response, error)
}

// HeaderProvider injects per-request headers (auth).
type HeaderProvider func() map[string]string

// Client calls the settlement HTTP API with fasthttp.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IdempotencyKey is stable per session so server-side retries collapse.
func IdempotencyKey(sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("arena-settlement:"+sessionID)).String()
}

func (c *Client) RequestResync(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, errors.New("settlement: session id is required")
	}
	var out Response
	hdr := map[string]string{"Idempotency-Key": IdempotencyKey(req.SessionID)}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/balance/resync", hdr, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, extra map[string]string, in any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.Multiplier = 2
	eb.MaxInterval = 3200 * time.Millisecond
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(c.retryMax, 1)-1)), ctx)

	op := func() error {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := fmt.Errorf("settlement api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return backoff.Permanent(apiErr)
			}
			return apiErr
		}
		if out != nil && len(resp.Body()) > 0 {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}
	return backoff.Retry(op, policy)
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
