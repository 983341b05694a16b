package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
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

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}

	p := buildProvider(cfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/bars", func(w http.ResponseWriter, r *http.Request) {
		req, ok := parseRangeRequest(w, r)
		if !ok {
			return
		}
		writeBars(w, r.Context(), p, req)
	})
	mux.HandleFunc("GET /api/dividends", func(w http.ResponseWriter, r *http.Request) {
		req, ok := parseRangeRequest(w, r)
		if !ok {
			return
		}
		writeActions(w, r.Context(), p.GetDividends, req)
	})
	mux.HandleFunc("GET /api/splits", func(w http.ResponseWriter, r *http.Request) {
		req, ok := parseRangeRequest(w, r)
		if !ok {
			return
		}
		writeActions(w, r.Context(), p.GetSplits, req)
	})
	mux.HandleFunc("GET /api/fundamentals", func(w http.ResponseWriter, r *http.Request) {
		writeFundamentals(w, r.Context(), p, r.URL.Query().Get("ticker"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(recoverPanic(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server", "err", err)
			os.Exit(1)
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

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

func parseRangeRequest(w http.ResponseWriter, r *http.Request) (provider.MarketDataRequest, bool) {
	q := r.URL.Query()
	start, err := provider.ParseDay(q.Get("start"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid start date")
		return provider.MarketDataRequest{}, false
	}
	end, err := provider.ParseDay(q.Get("end"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid end date")
		return provider.MarketDataRequest{}, false
	}
	return provider.MarketDataRequest{Ticker: q.Get("ticker"), Start: start, End: end}, true
}

func writeBars(w http.ResponseWriter, ctx context.Context, p provider.DataProvider, req provider.MarketDataRequest) {
	series, err := p.GetMarketData(ctx, req)
	if err != nil {
		httpError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, series)
}

func writeActions(
	w http.ResponseWriter,
	ctx context.Context,
	fetch func(context.Context, provider.MarketDataRequest) ([]provider.CorporateAction, error),
	req provider.MarketDataRequest,
) {
	acts, err := fetch(ctx, req)
	if err != nil {
		httpError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, struct {
		Ticker  string                     `json:"ticker"`
		Actions []provider.CorporateAction `json:"actions"`
	}{Ticker: req.Ticker, Actions: acts})
}

func writeFundamentals(w http.ResponseWriter, ctx context.Context, p provider.DataProvider, ticker string) {
	f, err := p.GetFundamentals(ctx, ticker)
	if err != nil {
		httpError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, f)
}

// statusFor maps the provider error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch provider.KindOf(err) {
	case provider.KindInvalidRequest:
		return http.StatusBadRequest
	case provider.KindNotFound:
		return http.StatusNotFound
	case provider.KindRateLimited:
		return http.StatusTooManyRequests
	case provider.KindTransient, provider.KindSchemaViolation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
