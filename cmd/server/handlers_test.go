package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"yahooprovider/internal/provider"
)

type fakeProvider struct {
	series       *provider.CanonicalSeries
	actions      []provider.CorporateAction
	fundamentals *provider.Fundamentals
	err          error
}

func (f fakeProvider) Name() string { return "fake" }

func (f fakeProvider) GetMarketData(context.Context, provider.MarketDataRequest) (*provider.CanonicalSeries, error) {
	return f.series, f.err
}

func (f fakeProvider) GetDividends(context.Context, provider.MarketDataRequest) ([]provider.CorporateAction, error) {
	return f.actions, f.err
}

func (f fakeProvider) GetSplits(context.Context, provider.MarketDataRequest) ([]provider.CorporateAction, error) {
	return f.actions, f.err
}

func (f fakeProvider) GetFundamentals(context.Context, string) (*provider.Fundamentals, error) {
	return f.fundamentals, f.err
}

func utcDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWriteBars_Success(t *testing.T) {
	close := decimal.RequireFromString("170.5")
	p := fakeProvider{series: &provider.CanonicalSeries{
		Ticker: "AAPL",
		Start:  utcDay(2024, 3, 1),
		End:    utcDay(2024, 3, 31),
		Bars:   []provider.CanonicalBar{{Date: utcDay(2024, 3, 4), Close: &close}},
	}}

	rr := httptest.NewRecorder()
	writeBars(rr, context.Background(), p, provider.MarketDataRequest{Ticker: "AAPL", Start: utcDay(2024, 3, 1), End: utcDay(2024, 3, 31)})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got provider.CanonicalSeries
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Ticker != "AAPL" || len(got.Bars) != 1 {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestWriteBars_ErrorStatuses(t *testing.T) {
	cases := []struct {
		kind provider.ErrorKind
		want int
	}{
		{provider.KindInvalidRequest, http.StatusBadRequest},
		{provider.KindNotFound, http.StatusNotFound},
		{provider.KindRateLimited, http.StatusTooManyRequests},
		{provider.KindTransient, http.StatusBadGateway},
		{provider.KindSchemaViolation, http.StatusBadGateway},
	}
	for _, tc := range cases {
		p := fakeProvider{err: provider.Errorf(tc.kind, "boom")}
		rr := httptest.NewRecorder()
		writeBars(rr, context.Background(), p, provider.MarketDataRequest{Ticker: "AAPL"})
		if rr.Code != tc.want {
			t.Fatalf("%s: status=%d, want %d", tc.kind, rr.Code, tc.want)
		}
		var body map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", tc.kind, err)
		}
		if body["error"] == "" {
			t.Fatalf("%s: empty error body", tc.kind)
		}
	}
}

func TestWriteActions(t *testing.T) {
	p := fakeProvider{actions: []provider.CorporateAction{{
		Type:   provider.ActionDividend,
		Date:   utcDay(2024, 2, 9),
		Amount: decimal.RequireFromString("0.24"),
	}}}

	rr := httptest.NewRecorder()
	writeActions(rr, context.Background(), p.GetDividends, provider.MarketDataRequest{Ticker: "AAPL"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Ticker  string                     `json:"ticker"`
		Actions []provider.CorporateAction `json:"actions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ticker != "AAPL" || len(resp.Actions) != 1 || resp.Actions[0].Type != provider.ActionDividend {
		t.Fatalf("unexpected: %+v", resp)
	}
}

func TestWriteFundamentals(t *testing.T) {
	p := fakeProvider{fundamentals: &provider.Fundamentals{Ticker: "AAPL", Name: "Apple Inc."}}

	rr := httptest.NewRecorder()
	writeFundamentals(rr, context.Background(), p, "AAPL")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got provider.Fundamentals
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Apple Inc." {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestParseRangeRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/bars?ticker=AAPL&start=2024-03-01&end=2024-03-31", nil)
	req, ok := parseRangeRequest(httptest.NewRecorder(), r)
	if !ok {
		t.Fatal("valid request rejected")
	}
	if req.Ticker != "AAPL" || !req.Start.Equal(utcDay(2024, 3, 1)) || !req.End.Equal(utcDay(2024, 3, 31)) {
		t.Fatalf("unexpected: %+v", req)
	}

	rr := httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/bars?ticker=AAPL&start=bad&end=2024-03-31", nil)
	if _, ok := parseRangeRequest(rr, r); ok {
		t.Fatal("bad start date accepted")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
}

func TestStatusFor_UntypedError(t *testing.T) {
	if got := statusFor(context.DeadlineExceeded); got != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", got)
	}
}
