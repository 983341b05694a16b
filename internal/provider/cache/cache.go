package cache

import (
	"context"
	"sync"
	"time"

	"yahooprovider/internal/provider"
)

// key identifies one cached result.
type key struct {
	kind   provider.DataKind
	ticker string
	start  int64
	end    int64
}

// entry stores one cached value with expiry.
type entry struct {
	expiresAt time.Time
	value     any
}

// Provider caches successful results per (ticker, range, kind) for a TTL.
// Caching is an explicit, injectable wrapper; nothing inside the adapter
// memoizes on its own, so request semantics stay auditable.
type Provider struct {
	P          provider.DataProvider
	TTL        time.Duration
	MaxEntries int

	mu    sync.RWMutex
	items map[key]entry
}

func (c *Provider) Name() string { return c.P.Name() }

func (c *Provider) GetMarketData(ctx context.Context, req provider.MarketDataRequest) (*provider.CanonicalSeries, error) {
	k := c.requestKey(provider.KindPrices, req)
	if v, ok := lookup[*provider.CanonicalSeries](c, k); ok {
		return v, nil
	}
	series, err := c.P.GetMarketData(ctx, req)
	if err != nil {
		return nil, err
	}
	c.store(k, series)
	return series, nil
}

func (c *Provider) GetDividends(ctx context.Context, req provider.MarketDataRequest) ([]provider.CorporateAction, error) {
	k := c.requestKey(provider.KindDividends, req)
	if v, ok := lookup[[]provider.CorporateAction](c, k); ok {
		return v, nil
	}
	acts, err := c.P.GetDividends(ctx, req)
	if err != nil {
		return nil, err
	}
	c.store(k, acts)
	return acts, nil
}

func (c *Provider) GetSplits(ctx context.Context, req provider.MarketDataRequest) ([]provider.CorporateAction, error) {
	k := c.requestKey(provider.KindSplits, req)
	if v, ok := lookup[[]provider.CorporateAction](c, k); ok {
		return v, nil
	}
	acts, err := c.P.GetSplits(ctx, req)
	if err != nil {
		return nil, err
	}
	c.store(k, acts)
	return acts, nil
}

func (c *Provider) GetFundamentals(ctx context.Context, ticker string) (*provider.Fundamentals, error) {
	k := key{kind: provider.KindFundamentals, ticker: ticker}
	if v, ok := lookup[*provider.Fundamentals](c, k); ok {
		return v, nil
	}
	f, err := c.P.GetFundamentals(ctx, ticker)
	if err != nil {
		return nil, err
	}
	c.store(k, f)
	return f, nil
}

func (c *Provider) requestKey(kind provider.DataKind, req provider.MarketDataRequest) key {
	return key{
		kind:   kind,
		ticker: req.Ticker,
		start:  provider.Day(req.Start).Unix(),
		end:    provider.Day(req.End).Unix(),
	}
}

// lookup returns a live cached value of the expected type.
func lookup[T any](c *Provider, k key) (T, bool) {
	var zero T
	if c.TTL <= 0 {
		return zero, false
	}
	c.mu.RLock()
	e, ok := c.items[k]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return zero, false
	}
	v, ok := e.value.(T)
	return v, ok
}

func (c *Provider) store(k key, v any) {
	if c.TTL <= 0 {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[key]entry)
	}
	c.items[k] = entry{expiresAt: now.Add(c.TTL), value: v}

	// best-effort cap: drop expired entries first, then arbitrary ones
	if c.MaxEntries > 0 && len(c.items) > c.MaxEntries {
		for ik, iv := range c.items {
			if now.After(iv.expiresAt) {
				delete(c.items, ik)
			}
			if len(c.items) <= c.MaxEntries {
				break
			}
		}
		for ik := range c.items {
			if len(c.items) <= c.MaxEntries {
				break
			}
			delete(c.items, ik)
		}
	}
}
