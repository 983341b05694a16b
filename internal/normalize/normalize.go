// Package normalize converts raw upstream payloads into the canonical
// row model. It is the only place loose upstream shapes are allowed; no
// RawRecord escapes past it.
package normalize

import (
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"yahooprovider/internal/provider"
)

// RawRow is one upstream response unit: a timestamp plus the field values
// exactly as returned, including provider null sentinels.
type RawRow struct {
	Timestamp int64
	Fields    map[string]any
}

// RawRecord is the ordered payload for one (ticker, kind) pair. Timezone
// is the exchange timezone name reported upstream, used to resolve the
// trading-day date of each row.
type RawRecord struct {
	Kind     provider.DataKind
	Timezone string
	Rows     []RawRow
}

// DefaultFieldMap maps upstream field names to canonical column names.
// Overrides come from configuration so upstream schema drift is a config
// patch, not a code change.
var DefaultFieldMap = map[string]string{
	"open":        "open",
	"high":        "high",
	"low":         "low",
	"close":       "close",
	"adjclose":    "adjusted_close",
	"volume":      "volume",
	"amount":      "dividend_amount",
	"numerator":   "numerator",
	"denominator": "denominator",
	"splitRatio":  "split_ratio",
}

// Normalizer applies the field mapping and sentinel rules to raw records.
type Normalizer struct {
	fieldMap map[string]string
	logger   *slog.Logger
}

// New builds a Normalizer. Entries in overrides shadow DefaultFieldMap.
func New(overrides map[string]string, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	fm := make(map[string]string, len(DefaultFieldMap)+len(overrides))
	for k, v := range DefaultFieldMap {
		fm[k] = v
	}
	for k, v := range overrides {
		fm[k] = v
	}
	return &Normalizer{fieldMap: fm, logger: logger}
}

// Bars converts a prices record into canonical daily bars, sorted by date.
// Rows where every price and volume field is absent are dropped (upstream
// emits all-null rows on exchange holidays); a row with prices but no
// close is a schema violation.
func (n *Normalizer) Bars(rec RawRecord) ([]provider.CanonicalBar, error) {
	loc := n.location(rec.Timezone)
	bars := make([]provider.CanonicalBar, 0, len(rec.Rows))
	seen := make(map[time.Time]struct{}, len(rec.Rows))

	for _, row := range rec.Rows {
		if row.Timestamp <= 0 {
			return nil, provider.Errorf(provider.KindSchemaViolation, "row without timestamp")
		}
		fields := n.canonicalFields(row.Fields)

		var err error
		bar := provider.CanonicalBar{Date: dayIn(row.Timestamp, loc)}
		if bar.Open, err = priceField(fields, "open"); err != nil {
			return nil, err
		}
		if bar.High, err = priceField(fields, "high"); err != nil {
			return nil, err
		}
		if bar.Low, err = priceField(fields, "low"); err != nil {
			return nil, err
		}
		if bar.Close, err = priceField(fields, "close"); err != nil {
			return nil, err
		}
		if bar.AdjustedClose, err = priceField(fields, "adjusted_close"); err != nil {
			return nil, err
		}
		if bar.Volume, err = volumeField(fields, "volume"); err != nil {
			return nil, err
		}

		if bar.Open == nil && bar.High == nil && bar.Low == nil && bar.Close == nil && bar.Volume == nil {
			continue // exchange closed or data explicitly missing
		}
		if bar.Close == nil {
			return nil, provider.Errorf(provider.KindSchemaViolation,
				"close missing on %s", bar.Date.Format("2006-01-02"))
		}
		if _, dup := seen[bar.Date]; dup {
			return nil, provider.Errorf(provider.KindSchemaViolation,
				"duplicate trading day %s", bar.Date.Format("2006-01-02"))
		}
		seen[bar.Date] = struct{}{}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// Actions converts a dividends or splits record into corporate actions,
// sorted by date.
func (n *Normalizer) Actions(rec RawRecord) ([]provider.CorporateAction, error) {
	loc := n.location(rec.Timezone)
	actions := make([]provider.CorporateAction, 0, len(rec.Rows))

	for _, row := range rec.Rows {
		if row.Timestamp <= 0 {
			return nil, provider.Errorf(provider.KindSchemaViolation, "%s event without timestamp", rec.Kind)
		}
		fields := n.canonicalFields(row.Fields)
		date := dayIn(row.Timestamp, loc)

		switch rec.Kind {
		case provider.KindDividends:
			amount, err := decimalField(fields, "dividend_amount")
			if err != nil {
				return nil, err
			}
			if amount == nil {
				return nil, provider.Errorf(provider.KindSchemaViolation,
					"dividend on %s has no amount", date.Format("2006-01-02"))
			}
			if !amount.IsPositive() {
				return nil, provider.Errorf(provider.KindSchemaViolation,
					"dividend amount %s on %s is not positive", amount, date.Format("2006-01-02"))
			}
			actions = append(actions, provider.CorporateAction{
				Type: provider.ActionDividend, Date: date, Amount: *amount,
			})

		case provider.KindSplits:
			ratio, err := splitRatio(fields)
			if err != nil {
				return nil, err
			}
			if !ratio.IsPositive() {
				return nil, provider.Errorf(provider.KindSchemaViolation,
					"split ratio %s on %s is not positive", ratio, date.Format("2006-01-02"))
			}
			actions = append(actions, provider.CorporateAction{
				Type: provider.ActionSplit, Date: date, Ratio: ratio,
			})

		default:
			return nil, provider.Errorf(provider.KindSchemaViolation, "unexpected record kind %q", rec.Kind)
		}
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i].Date.Before(actions[j].Date) })
	return actions, nil
}

// canonicalFields renames upstream fields via the mapping table. Unknown
// upstream fields are kept out of the result but logged so additive schema
// changes stay visible.
func (n *Normalizer) canonicalFields(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for name, v := range raw {
		canonical, ok := n.fieldMap[name]
		if !ok {
			n.logger.Debug("ignoring unknown upstream field", "field", name)
			continue
		}
		out[canonical] = v
	}
	return out
}

func (n *Normalizer) location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		n.logger.Warn("unknown exchange timezone, using UTC", "timezone", tz)
		return time.UTC
	}
	return loc
}

// dayIn resolves an upstream (possibly intraday) timestamp to the
// trading-day calendar date in the exchange timezone.
func dayIn(ts int64, loc *time.Location) time.Time {
	return provider.Day(time.Unix(ts, 0).In(loc))
}

// decimalField coerces a loosely-typed upstream value into a decimal.
// All null sentinels map to nil, never to zero.
func decimalField(fields map[string]any, name string) (*decimal.Decimal, error) {
	v, ok := fields[name]
	if !ok || isNullSentinel(v) {
		return nil, nil
	}
	var d decimal.Decimal
	switch x := v.(type) {
	case float64:
		d = decimal.NewFromFloat(x)
	case int64:
		d = decimal.NewFromInt(x)
	case int:
		d = decimal.NewFromInt(int64(x))
	case json.Number:
		parsed, err := decimal.NewFromString(x.String())
		if err != nil {
			return nil, provider.Errorf(provider.KindSchemaViolation, "field %s: unparsable number %q", name, x.String())
		}
		d = parsed
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return nil, provider.Errorf(provider.KindSchemaViolation, "field %s: unparsable number %q", name, x)
		}
		d = parsed
	case *float64:
		d = decimal.NewFromFloat(*x)
	default:
		return nil, provider.Errorf(provider.KindSchemaViolation, "field %s: unexpected type %T", name, v)
	}
	return &d, nil
}

// priceField is decimalField plus the non-negativity rule: a negative
// price is a schema violation, never clamped.
func priceField(fields map[string]any, name string) (*decimal.Decimal, error) {
	d, err := decimalField(fields, name)
	if err != nil || d == nil {
		return d, err
	}
	if d.IsNegative() {
		return nil, provider.Errorf(provider.KindSchemaViolation, "negative %s %s", name, d)
	}
	return d, nil
}

func volumeField(fields map[string]any, name string) (*int64, error) {
	d, err := decimalField(fields, name)
	if err != nil || d == nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, provider.Errorf(provider.KindSchemaViolation, "negative %s %s", name, d)
	}
	vol := d.IntPart()
	return &vol, nil
}

// splitRatio prefers numerator/denominator and falls back to the string
// split_ratio field ("4:1" or plain "4").
func splitRatio(fields map[string]any) (decimal.Decimal, error) {
	num, err := decimalField(fields, "numerator")
	if err != nil {
		return decimal.Zero, err
	}
	den, err := decimalField(fields, "denominator")
	if err != nil {
		return decimal.Zero, err
	}
	if num != nil && den != nil {
		if den.IsZero() {
			return decimal.Zero, provider.Errorf(provider.KindSchemaViolation, "split denominator is zero")
		}
		return num.Div(*den), nil
	}

	v, ok := fields["split_ratio"]
	if !ok || isNullSentinel(v) {
		return decimal.Zero, provider.Errorf(provider.KindSchemaViolation, "split event without ratio")
	}
	s, ok := v.(string)
	if !ok {
		d, err := decimalField(fields, "split_ratio")
		if err != nil {
			return decimal.Zero, err
		}
		if d == nil {
			return decimal.Zero, provider.Errorf(provider.KindSchemaViolation, "split event without ratio")
		}
		return *d, nil
	}
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	a, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return decimal.Zero, provider.Errorf(provider.KindSchemaViolation, "unparsable split ratio %q", s)
	}
	if len(parts) == 1 {
		return decimal.NewFromFloat(a), nil
	}
	b, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || b == 0 {
		return decimal.Zero, provider.Errorf(provider.KindSchemaViolation, "unparsable split ratio %q", s)
	}
	return decimal.NewFromFloat(a).Div(decimal.NewFromFloat(b)), nil
}

// isNullSentinel recognizes the upstream "no value here" spellings.
func isNullSentinel(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x) || math.IsInf(x, 0)
	case *float64:
		return x == nil || math.IsNaN(*x) || math.IsInf(*x, 0)
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		return s == "" || s == "null" || s == "nan" || s == "none" || s == "n/a"
	case json.Number:
		return strings.TrimSpace(x.String()) == ""
	default:
		return false
	}
}
