package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"yahooprovider/internal/config"
	"yahooprovider/internal/httpx"
	"yahooprovider/internal/normalize"
	"yahooprovider/internal/provider"
	"yahooprovider/internal/provider/cache"
	"yahooprovider/internal/provider/ratelimit"
	"yahooprovider/internal/provider/yahoo"
	"yahooprovider/internal/provider/yahooadapter"
)

type output struct {
	Series       *provider.CanonicalSeries  `json:"series,omitempty"`
	Dividends    []provider.CorporateAction `json:"dividends,omitempty"`
	Splits       []provider.CorporateAction `json:"splits,omitempty"`
	Fundamentals *provider.Fundamentals     `json:"fundamentals,omitempty"`
}

func main() {
	var (
		ticker     string
		startStr   string
		endStr     string
		fieldsCSV  string
		configPath string
		timeout    int
		verbose    bool
	)
	_ = godotenv.Load()

	flag.StringVar(&ticker, "ticker", os.Getenv("TICKER"), "ticker symbol (e.g. AAPL)")
	flag.StringVar(&startStr, "start", "", "start date YYYY-MM-DD")
	flag.StringVar(&endStr, "end", "", "end date YYYY-MM-DD")
	flag.StringVar(&fieldsCSV, "fields", "", "comma-separated field set (default: all)")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.IntVar(&timeout, "timeout", 0, "request timeout seconds (overrides config)")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(logger, "config", err)
	}
	if timeout > 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}

	start, err := provider.ParseDay(startStr)
	if err != nil {
		fatal(logger, "start date", err)
	}
	end, err := provider.ParseDay(endStr)
	if err != nil {
		fatal(logger, "end date", err)
	}
	req := provider.MarketDataRequest{Ticker: ticker, Start: start, End: end, Fields: parseFields(fieldsCSV)}

	p := buildProvider(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.RequestTimeoutSec)*time.Second)
	defer cancel()

	var out output
	if req.Wants(provider.FieldClose) || req.Wants(provider.FieldAdjustedClose) {
		out.Series, err = p.GetMarketData(ctx, req)
		if err != nil {
			fatal(logger, "market data", err)
		}
	}
	if req.Wants(provider.FieldDividends) {
		out.Dividends, err = p.GetDividends(ctx, req)
		if err != nil {
			fatal(logger, "dividends", err)
		}
	}
	if req.Wants(provider.FieldSplits) {
		out.Splits, err = p.GetSplits(ctx, req)
		if err != nil {
			fatal(logger, "splits", err)
		}
	}
	if req.Wants(provider.FieldFundamentals) && len(req.Fields) > 0 {
		out.Fundamentals, err = p.GetFundamentals(ctx, req.Ticker)
		if err != nil {
			fatal(logger, "fundamentals", err)
		}
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fatal(logger, "encode", err)
	}
	fmt.Println(string(b))
}

// buildProvider assembles client, adapter and the optional wrappers the
// config enables.
func buildProvider(cfg config.Config, logger *slog.Logger) provider.DataProvider {
	hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	var limiter ratelimit.Limiter
	if cfg.Yahoo.MaxRequestsPerMinute > 0 {
		burst := cfg.Yahoo.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = ratelimit.NewTokenBucket(float64(cfg.Yahoo.MaxRequestsPerMinute)/60.0, burst)
	} else if cfg.Yahoo.MinRequestIntervalSec > 0 {
		limiter = &ratelimit.MinInterval{Interval: time.Duration(cfg.Yahoo.MinRequestIntervalSec) * time.Second}
	}

	opts := []yahoo.ClientOption{
		yahoo.WithBaseURL(cfg.Yahoo.Endpoint),
		yahoo.WithHTTPClient(hc),
		yahoo.WithLogger(logger),
		yahoo.WithRetryPolicy(yahoo.RetryPolicy{
			MaxAttempts:       cfg.Yahoo.MaxAttempts,
			BackoffBase:       time.Duration(cfg.Yahoo.BackoffBaseMs) * time.Millisecond,
			BackoffMultiplier: cfg.Yahoo.BackoffMultiplier,
			Jitter:            cfg.Yahoo.BackoffJitter,
		}),
	}
	if limiter != nil {
		opts = append(opts, yahoo.WithLimiter(limiter))
	}
	client := yahoo.NewClient(opts...)

	norm := normalize.New(cfg.Yahoo.FieldMap, logger)
	var p provider.DataProvider = yahooadapter.New(yahooadapter.Config{
		ActionWindowPadDays: cfg.Yahoo.ActionWindowPadDays,
	}, client, norm, logger)
	if cfg.Yahoo.CacheTTLSeconds > 0 {
		p = &cache.Provider{
			P:          p,
			TTL:        time.Duration(cfg.Yahoo.CacheTTLSeconds) * time.Second,
			MaxEntries: cfg.Yahoo.CacheMaxEntries,
		}
	}
	return p
}

func parseFields(csv string) []provider.Field {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]provider.Field, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, provider.Field(p))
		}
	}
	return out
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
