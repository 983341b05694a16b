// Package yahooadapter implements the host DataProvider contract on top
// of the Yahoo Finance chart API.
package yahooadapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/equity"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"yahooprovider/internal/adjust"
	"yahooprovider/internal/normalize"
	"yahooprovider/internal/provider"
)

// ChartClient is the raw fetch surface the adapter consumes.
type ChartClient interface {
	Prices(ctx context.Context, ticker string, start, end time.Time) (normalize.RawRecord, error)
	Dividends(ctx context.Context, ticker string, start, end time.Time) (normalize.RawRecord, error)
	Splits(ctx context.Context, ticker string, start, end time.Time) (normalize.RawRecord, error)
}

// EquityFunc fetches the snapshot quote used for fundamentals.
type EquityFunc func(symbol string) (*finance.Equity, error)

type Config struct {
	Name string // display name, default: YahooFinance
	// ActionWindowPadDays extends the corporate-action fetch window
	// beyond the requested end date. A split or dividend dated after the
	// range still rescales every in-range bar, so the adapter fetches a
	// superset window rather than silently mis-adjusting.
	ActionWindowPadDays int
}

// Adapter orchestrates fetch, normalization and reconciliation for one
// host request. It holds no per-request state; raw payloads live and die
// inside a single call.
type Adapter struct {
	cfg      Config
	client   ChartClient
	norm     *normalize.Normalizer
	logger   *slog.Logger
	equityFn EquityFunc
}

func New(cfg Config, client ChartClient, norm *normalize.Normalizer, logger *slog.Logger) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "YahooFinance"
	}
	if cfg.ActionWindowPadDays <= 0 {
		cfg.ActionWindowPadDays = 30
	}
	if norm == nil {
		norm = normalize.New(nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{cfg: cfg, client: client, norm: norm, logger: logger, equityFn: equity.Get}
}

// WithEquityFunc replaces the fundamentals fetcher, for tests.
func (a *Adapter) WithEquityFunc(fn EquityFunc) *Adapter {
	a.equityFn = fn
	return a
}

func (a *Adapter) Name() string { return a.cfg.Name }

// GetMarketData assembles the canonical series for one request: the
// three sub-fetches run concurrently and join before reconciliation, and
// the finished series is re-validated before it crosses the host
// boundary.
func (a *Adapter) GetMarketData(ctx context.Context, req provider.MarketDataRequest) (*provider.CanonicalSeries, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start, end := provider.Day(req.Start), provider.Day(req.End)
	padEnd := end.AddDate(0, 0, a.cfg.ActionWindowPadDays)
	log := a.logger.With("request_id", uuid.NewString(), "ticker", req.Ticker)

	var pricesRec, divRec, splitRec normalize.RawRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pricesRec, err = a.client.Prices(gctx, req.Ticker, start, end)
		return provider.Wrap(err, req.Ticker, provider.KindPrices, start, end)
	})
	g.Go(func() error {
		var err error
		divRec, err = a.client.Dividends(gctx, req.Ticker, start, padEnd)
		return provider.Wrap(err, req.Ticker, provider.KindDividends, start, padEnd)
	})
	g.Go(func() error {
		var err error
		splitRec, err = a.client.Splits(gctx, req.Ticker, start, padEnd)
		return provider.Wrap(err, req.Ticker, provider.KindSplits, start, padEnd)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bars, err := a.norm.Bars(pricesRec)
	if err != nil {
		return nil, provider.Wrap(err, req.Ticker, provider.KindPrices, start, end)
	}
	splits, err := a.norm.Actions(splitRec)
	if err != nil {
		return nil, provider.Wrap(err, req.Ticker, provider.KindSplits, start, padEnd)
	}
	dividends, err := a.norm.Actions(divRec)
	if err != nil {
		return nil, provider.Wrap(err, req.Ticker, provider.KindDividends, start, padEnd)
	}

	actions := make([]provider.CorporateAction, 0, len(splits)+len(dividends))
	actions = append(actions, splits...)
	actions = append(actions, dividends...)

	adjusted, err := adjust.BackAdjust(bars, actions)
	if err != nil {
		return nil, provider.Wrap(err, req.Ticker, provider.KindPrices, start, end)
	}

	series := &provider.CanonicalSeries{
		Ticker: req.Ticker,
		Start:  start,
		End:    end,
		Bars:   clipBars(adjusted, start, end),
	}
	if err := series.Validate(); err != nil {
		return nil, provider.Wrap(err, req.Ticker, provider.KindPrices, start, end)
	}
	log.Info("market data assembled", "bars", len(series.Bars), "actions", len(actions))
	return series, nil
}

// GetDividends returns dividend events inside the requested range.
func (a *Adapter) GetDividends(ctx context.Context, req provider.MarketDataRequest) ([]provider.CorporateAction, error) {
	return a.actions(ctx, req, provider.KindDividends, a.client.Dividends)
}

// GetSplits returns split events inside the requested range.
func (a *Adapter) GetSplits(ctx context.Context, req provider.MarketDataRequest) ([]provider.CorporateAction, error) {
	return a.actions(ctx, req, provider.KindSplits, a.client.Splits)
}

func (a *Adapter) actions(
	ctx context.Context,
	req provider.MarketDataRequest,
	kind provider.DataKind,
	fetch func(context.Context, string, time.Time, time.Time) (normalize.RawRecord, error),
) ([]provider.CorporateAction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start, end := provider.Day(req.Start), provider.Day(req.End)
	rec, err := fetch(ctx, req.Ticker, start, end)
	if err != nil {
		return nil, provider.Wrap(err, req.Ticker, kind, start, end)
	}
	acts, err := a.norm.Actions(rec)
	if err != nil {
		return nil, provider.Wrap(err, req.Ticker, kind, start, end)
	}
	return clipActions(acts, start, end), nil
}

// GetFundamentals returns a snapshot of reference facts for the ticker.
func (a *Adapter) GetFundamentals(ctx context.Context, ticker string) (*provider.Fundamentals, error) {
	if ticker == "" {
		return nil, provider.Errorf(provider.KindInvalidRequest, "ticker is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := a.equityFn(ticker)
	if err != nil {
		return nil, &provider.Error{
			Kind: provider.KindTransient, Ticker: ticker, Data: provider.KindFundamentals,
			Err: fmt.Errorf("fetch equity: %w", err),
		}
	}
	if q == nil || q.Symbol == "" {
		return nil, &provider.Error{
			Kind: provider.KindNotFound, Ticker: ticker, Data: provider.KindFundamentals,
			Err: fmt.Errorf("no quote for %s", ticker),
		}
	}
	return &provider.Fundamentals{
		Ticker:        q.Symbol,
		Name:          q.ShortName,
		Exchange:      q.FullExchangeName,
		Currency:      q.CurrencyID,
		MarketCap:     q.MarketCap,
		TrailingPE:    q.TrailingPE,
		ForwardPE:     q.ForwardPE,
		EPSTrailing:   q.EpsTrailingTwelveMonths,
		BookValue:     q.BookValue,
		PriceToBook:   q.PriceToBook,
		DividendRate:  q.TrailingAnnualDividendRate,
		DividendYield: q.TrailingAnnualDividendYield,
		Price:         decimal.NewFromFloat(q.RegularMarketPrice),
		RetrievedAt:   time.Now().UTC(),
	}, nil
}

func clipBars(bars []provider.CanonicalBar, start, end time.Time) []provider.CanonicalBar {
	out := make([]provider.CanonicalBar, 0, len(bars))
	for _, b := range bars {
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func clipActions(acts []provider.CorporateAction, start, end time.Time) []provider.CorporateAction {
	out := make([]provider.CorporateAction, 0, len(acts))
	for _, a := range acts {
		if a.Date.Before(start) || a.Date.After(end) {
			continue
		}
		out = append(out, a)
	}
	return out
}
