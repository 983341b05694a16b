package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"yahooprovider/internal/normalize"
	"yahooprovider/internal/provider"
)

// chartResponse mirrors the v8 chart payload. Value arrays use pointers
// because Yahoo writes JSON null for missing observations.
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Currency             string `json:"currency"`
		Symbol               string `json:"symbol"`
		ExchangeName         string `json:"exchangeName"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp []int64 `json:"timestamp"`
	Events    *struct {
		Dividends map[string]dividendEvent `json:"dividends"`
		Splits    map[string]splitEvent    `json:"splits"`
	} `json:"events"`
	Indicators struct {
		// Keyed by upstream field name so the normalizer's mapping
		// table sees exactly what Yahoo sent.
		Quote    []map[string][]*float64 `json:"quote"`
		Adjclose []struct {
			Adjclose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

type dividendEvent struct {
	Amount *float64 `json:"amount"`
	Date   int64    `json:"date"`
}

type splitEvent struct {
	Date        int64    `json:"date"`
	Numerator   *float64 `json:"numerator"`
	Denominator *float64 `json:"denominator"`
	SplitRatio  string   `json:"splitRatio"`
}

// Prices fetches daily OHLCV (plus upstream adjusted close) for the
// inclusive date range.
func (c *Client) Prices(ctx context.Context, ticker string, start, end time.Time) (normalize.RawRecord, error) {
	res, err := c.chart(ctx, ticker, start, end, "")
	if err != nil {
		return normalize.RawRecord{}, err
	}

	rec := normalize.RawRecord{
		Kind:     provider.KindPrices,
		Timezone: res.Meta.ExchangeTimezoneName,
		Rows:     make([]normalize.RawRow, 0, len(res.Timestamp)),
	}
	var quote map[string][]*float64
	if len(res.Indicators.Quote) > 0 {
		quote = res.Indicators.Quote[0]
	}
	var adj []*float64
	if len(res.Indicators.Adjclose) > 0 {
		adj = res.Indicators.Adjclose[0].Adjclose
	}

	for i, ts := range res.Timestamp {
		fields := make(map[string]any, len(quote)+1)
		for name, values := range quote {
			fields[name] = at(values, i)
		}
		fields["adjclose"] = at(adj, i)
		rec.Rows = append(rec.Rows, normalize.RawRow{Timestamp: ts, Fields: fields})
	}
	return rec, nil
}

// Dividends fetches dividend events for the inclusive date range.
func (c *Client) Dividends(ctx context.Context, ticker string, start, end time.Time) (normalize.RawRecord, error) {
	res, err := c.chart(ctx, ticker, start, end, "div")
	if err != nil {
		return normalize.RawRecord{}, err
	}
	rec := normalize.RawRecord{Kind: provider.KindDividends, Timezone: res.Meta.ExchangeTimezoneName}
	if res.Events == nil {
		return rec, nil
	}
	for _, ev := range res.Events.Dividends {
		rec.Rows = append(rec.Rows, normalize.RawRow{
			Timestamp: ev.Date,
			Fields:    map[string]any{"amount": deref(ev.Amount)},
		})
	}
	return rec, nil
}

// Splits fetches split events for the inclusive date range.
func (c *Client) Splits(ctx context.Context, ticker string, start, end time.Time) (normalize.RawRecord, error) {
	res, err := c.chart(ctx, ticker, start, end, "split")
	if err != nil {
		return normalize.RawRecord{}, err
	}
	rec := normalize.RawRecord{Kind: provider.KindSplits, Timezone: res.Meta.ExchangeTimezoneName}
	if res.Events == nil {
		return rec, nil
	}
	for _, ev := range res.Events.Splits {
		rec.Rows = append(rec.Rows, normalize.RawRow{
			Timestamp: ev.Date,
			Fields: map[string]any{
				"numerator":   deref(ev.Numerator),
				"denominator": deref(ev.Denominator),
				"splitRatio":  ev.SplitRatio,
			},
		})
	}
	return rec, nil
}

func (c *Client) chart(ctx context.Context, ticker string, start, end time.Time, events string) (*chartResult, error) {
	query := url.Values{}
	query.Set("period1", strconv.FormatInt(provider.Day(start).Unix(), 10))
	// period2 is exclusive upstream; push it one day out to keep the
	// requested range inclusive.
	query.Set("period2", strconv.FormatInt(provider.Day(end).AddDate(0, 0, 1).Unix(), 10))
	query.Set("interval", "1d")
	query.Set("includeAdjustedClose", "true")
	if events != "" {
		query.Set("events", events)
	}

	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(ticker), query.Encode())
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, provider.Errorf(provider.KindSchemaViolation, "decode chart response: %v", err)
	}
	if resp.Chart.Error != nil {
		return nil, apiErrorToKind(resp.Chart.Error)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, provider.Errorf(provider.KindNotFound, "no chart data returned for %s", ticker)
	}
	return &resp.Chart.Result[0], nil
}

// get performs a GET with the shared limiter, bounded retries and
// exponential backoff. Rate-limit responses honor Retry-After.
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	backoff := c.retry.BackoffBase
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := backoff
			if c.retry.Jitter {
				wait = backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			}
			if retryAfter > wait {
				wait = retryAfter
			}
			c.logger.Debug("retrying upstream request", "attempt", attempt, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiplier)
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		body, ra, err := c.attempt(ctx, u)
		if err == nil {
			return body, nil
		}
		lastErr = err
		retryAfter = ra
		if !provider.Retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, u string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, 0, provider.Errorf(provider.KindInvalidRequest, "creating request: %v", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, 0, err // abandoned by the caller, do not retry
		}
		return nil, 0, provider.Errorf(provider.KindTransient, "performing request: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, 0, provider.Errorf(provider.KindTransient, "reading response: %v", err)
	}

	switch {
	case res.StatusCode == http.StatusOK:
		return body, 0, nil
	case res.StatusCode == http.StatusNotFound:
		return nil, 0, provider.Errorf(provider.KindNotFound, "upstream 404: %s", bodyError(body))
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, parseRetryAfter(res.Header.Get("Retry-After")), provider.Errorf(provider.KindRateLimited, "upstream rate limit")
	case res.StatusCode == http.StatusBadRequest,
		res.StatusCode == http.StatusUnauthorized,
		res.StatusCode == http.StatusForbidden:
		return nil, 0, provider.Errorf(provider.KindInvalidRequest, "upstream rejected request: %d %s", res.StatusCode, bodyError(body))
	default:
		return nil, 0, provider.Errorf(provider.KindTransient, "unexpected status code %d", res.StatusCode)
	}
}

// apiErrorToKind maps the chart envelope error into the taxonomy.
func apiErrorToKind(e *chartError) error {
	switch e.Code {
	case "Not Found":
		return provider.Errorf(provider.KindNotFound, "%s", e.Description)
	case "Bad Request":
		return provider.Errorf(provider.KindInvalidRequest, "%s", e.Description)
	default:
		return provider.Errorf(provider.KindTransient, "upstream error %s: %s", e.Code, e.Description)
	}
}

// bodyError extracts the chart error description from an error body,
// falling back to a truncated raw dump.
func bodyError(body []byte) string {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Chart.Error != nil {
		return fmt.Sprintf("%s: %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return string(body)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func at(values []*float64, i int) any {
	if i < 0 || i >= len(values) || values[i] == nil {
		return nil
	}
	return *values[i]
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
