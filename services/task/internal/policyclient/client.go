// Package policyclient calls the policy service over HTTP. Every failure it
// returns wraps domain.ErrUpstream.
package policyclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"taskflow/pkg/metrics"
	"taskflow/services/task/internal/domain"

	"github.com/shopspring/decimal"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	// MaxRetries is 0 or 1.
	MaxRetries int
	RetryDelay time.Duration
	Metrics    *metrics.Registry
}

func New(baseURL string, timeout time.Duration, maxRetries int, reg *metrics.Registry) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > 1 {
		maxRetries = 1
	}
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:       &http.Client{Timeout: timeout},
		MaxRetries: maxRetries,
		RetryDelay: 100 * time.Millisecond,
		Metrics:    reg,
	}
}

func (c *Client) Rate(ctx context.Context, category string) (decimal.Decimal, error) {
	var out struct {
		Rate *decimal.Decimal `json:"rate"`
	}
	if err := c.get(ctx, "rate", "/policy/rate", url.Values{"category": {category}}, &out); err != nil {
		return decimal.Zero, err
	}
	if out.Rate == nil {
		return decimal.Zero, c.malformed("rate", "missing rate")
	}
	return *out.Rate, nil
}

func (c *Client) Surcharge(ctx context.Context, metric decimal.Decimal) (decimal.Decimal, error) {
	var out struct {
		Surcharge *decimal.Decimal `json:"surcharge"`
	}
	if err := c.get(ctx, "surcharge", "/policy/surcharge", url.Values{"metric": {metric.String()}}, &out); err != nil {
		return decimal.Zero, err
	}
	if out.Surcharge == nil {
		return decimal.Zero, c.malformed("surcharge", "missing surcharge")
	}
	return *out.Surcharge, nil
}

func (c *Client) Fee(ctx context.Context, count int) (decimal.Decimal, error) {
	var out struct {
		Tuition *decimal.Decimal `json:"tuition"`
	}
	if err := c.get(ctx, "fee", "/policy/calc_tuition", url.Values{"credits": {strconv.Itoa(count)}}, &out); err != nil {
		return decimal.Zero, err
	}
	if out.Tuition == nil {
		return decimal.Zero, c.malformed("fee", "missing tuition")
	}
	return *out.Tuition, nil
}

func (c *Client) MaxUnits(ctx context.Context) (int, error) {
	var out struct {
		MaxCredits *int `json:"max_credits"`
	}
	if err := c.get(ctx, "max_units", "/policy/max_credits", nil, &out); err != nil {
		return 0, err
	}
	if out.MaxCredits == nil {
		return 0, c.malformed("max_units", "missing max_credits")
	}
	return *out.MaxCredits, nil
}

func (c *Client) malformed(op, msg string) error {
	c.count(op, "malformed")
	return fmt.Errorf("policy %s: %s: %w", op, msg, domain.ErrUpstream)
}

func (c *Client) count(op, result string) {
	if c.Metrics != nil {
		c.Metrics.PolicyCalls.WithLabelValues(op, result).Inc()
	}
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, dst any) error {
	target := c.BaseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	attempts := 1 + c.MaxRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if c.Metrics != nil {
				c.Metrics.PolicyRetries.Inc()
			}
			if err := sleepCtx(ctx, c.RetryDelay); err != nil {
				break
			}
		}
		body, retryable, err := c.once(ctx, target)
		if err == nil {
			if err := json.Unmarshal(body, dst); err != nil {
				return c.malformed(op, "decode: "+err.Error())
			}
			c.count(op, "ok")
			return nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	c.count(op, "error")
	return fmt.Errorf("policy %s: %v: %w", op, lastErr, domain.ErrUpstream)
}

// once performs one request and reports whether a failure is worth retrying.
func (c *Client) once(ctx context.Context, target string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, !errors.Is(err, context.Canceled), err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, shouldRetryStatus(resp.StatusCode), fmt.Errorf("policy returned %d", resp.StatusCode)
	}
	return body, false, nil
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
