package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a provider failure so the host can tell "no data"
// apart from "broken adapter".
type ErrorKind int

const (
	// KindInvalidRequest is a caller error. Never retried.
	KindInvalidRequest ErrorKind = iota + 1
	// KindNotFound means the ticker or data is genuinely absent upstream.
	// A normal outcome, not a crash condition.
	KindNotFound
	// KindTransient covers timeouts, 5xx responses and network errors.
	// Retried internally up to the configured attempt ceiling.
	KindTransient
	// KindRateLimited is a transient subtype that honors upstream
	// retry-after hints before the next attempt.
	KindRateLimited
	// KindSchemaViolation means the upstream payload broke the expected
	// contract. Never coerced, always surfaced.
	KindSchemaViolation
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindSchemaViolation:
		return "schema_violation"
	default:
		return "unknown"
	}
}

// Error is the typed failure every component returns. The surrounding
// request context (ticker, data kind, range) is filled in as the error
// travels up so the host sees where things broke.
type Error struct {
	Kind   ErrorKind
	Ticker string
	Data   DataKind
	Start  time.Time
	End    time.Time
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Ticker != "" {
		fmt.Fprintf(&b, " ticker=%s", e.Ticker)
	}
	if e.Data != "" {
		fmt.Fprintf(&b, " data=%s", e.Data)
	}
	if !e.Start.IsZero() {
		fmt.Fprintf(&b, " range=%s..%s", e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a typed error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from an error chain, or 0 when untyped.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// Retryable reports whether the failure is expected to resolve on retry.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindRateLimited
}

// Wrap attaches request context to err without losing its kind; untyped
// errors become Transient since we cannot prove them permanent.
func Wrap(err error, ticker string, data DataKind, start, end time.Time) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == 0 {
		kind = KindTransient
	}
	return &Error{Kind: kind, Ticker: ticker, Data: data, Start: start, End: end, Err: err}
}
