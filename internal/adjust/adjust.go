// Package adjust merges corporate actions into a price series, producing
// back-adjusted closes: the most recent bar's adjusted close equals its
// raw close, earlier bars are scaled by the cumulative split and dividend
// factors of every action dated after them.
package adjust

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"yahooprovider/internal/provider"
)

var one = decimal.NewFromInt(1)

// BackAdjust returns a copy of bars with AdjustedClose populated and
// same-day actions annotated on their bar. Bars must be sorted by date
// ascending (the normalizer guarantees this). Actions outside the bar
// range are still honored when they postdate a bar.
//
// Determinism rule for two actions on one date: the split applies first,
// so the dividend factor is computed against the split-adjusted reference
// close.
func BackAdjust(bars []provider.CanonicalBar, actions []provider.CorporateAction) ([]provider.CanonicalBar, error) {
	if err := validateActions(actions); err != nil {
		return nil, err
	}

	out := make([]provider.CanonicalBar, len(bars))
	copy(out, bars)

	groups := groupByDate(actions)
	annotate(out, groups)

	factor := one
	gi := len(groups) - 1 // next unprocessed group, newest first

	for i := len(out) - 1; i >= 0; i-- {
		bar := &out[i]
		for gi >= 0 && groups[gi].date.After(bar.Date) {
			f, err := groupFactor(groups[gi], out[:i+1])
			if err != nil {
				return nil, err
			}
			factor = factor.Mul(f)
			gi--
		}
		if bar.Close != nil {
			adj := bar.Close.Mul(factor)
			bar.AdjustedClose = &adj
		} else {
			bar.AdjustedClose = nil
		}
	}
	return out, nil
}

type actionGroup struct {
	date      time.Time
	ratio     decimal.Decimal // product of split ratios, 1 when none
	dividends []decimal.Decimal
}

func validateActions(actions []provider.CorporateAction) error {
	for _, a := range actions {
		switch a.Type {
		case provider.ActionSplit:
			if !a.Ratio.IsPositive() {
				return provider.Errorf(provider.KindSchemaViolation,
					"split ratio %s on %s is not positive", a.Ratio, a.Date.Format("2006-01-02"))
			}
		case provider.ActionDividend:
			if !a.Amount.IsPositive() {
				return provider.Errorf(provider.KindSchemaViolation,
					"dividend amount %s on %s is not positive", a.Amount, a.Date.Format("2006-01-02"))
			}
		default:
			return provider.Errorf(provider.KindSchemaViolation, "unknown action type %q", a.Type)
		}
	}
	return nil
}

func groupByDate(actions []provider.CorporateAction) []actionGroup {
	byDate := make(map[time.Time]*actionGroup)
	for _, a := range actions {
		g, ok := byDate[a.Date]
		if !ok {
			g = &actionGroup{date: a.Date, ratio: one}
			byDate[a.Date] = g
		}
		switch a.Type {
		case provider.ActionSplit:
			g.ratio = g.ratio.Mul(a.Ratio)
		case provider.ActionDividend:
			g.dividends = append(g.dividends, a.Amount)
		}
	}
	groups := make([]actionGroup, 0, len(byDate))
	for _, g := range byDate {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].date.Before(groups[j].date) })
	return groups
}

// groupFactor computes the combined adjustment factor for one action date.
// earlier holds every bar dated before the group, newest last; its final
// bar with a close is the dividend reference.
func groupFactor(g actionGroup, earlier []provider.CanonicalBar) (decimal.Decimal, error) {
	f := one.Div(g.ratio)
	if len(g.dividends) == 0 {
		return f, nil
	}

	ref := refClose(earlier)
	if ref == nil {
		return decimal.Zero, provider.Errorf(provider.KindSchemaViolation,
			"no reference close before dividend on %s", g.date.Format("2006-01-02"))
	}
	// Split first: the dividend is declared in post-split share terms.
	base := ref.Div(g.ratio)
	for _, d := range g.dividends {
		if d.GreaterThanOrEqual(base) {
			return decimal.Zero, provider.Errorf(provider.KindSchemaViolation,
				"dividend %s on %s is not below reference close %s", d, g.date.Format("2006-01-02"), base)
		}
		f = f.Mul(base.Sub(d).Div(base))
	}
	return f, nil
}

func refClose(bars []provider.CanonicalBar) *decimal.Decimal {
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Close != nil {
			return bars[i].Close
		}
	}
	return nil
}

func annotate(bars []provider.CanonicalBar, groups []actionGroup) {
	if len(groups) == 0 {
		return
	}
	byDate := make(map[time.Time]actionGroup, len(groups))
	for _, g := range groups {
		byDate[g.date] = g
	}
	for i := range bars {
		g, ok := byDate[bars[i].Date]
		if !ok {
			continue
		}
		if !g.ratio.Equal(one) {
			r := g.ratio
			bars[i].SplitRatio = &r
		}
		if len(g.dividends) > 0 {
			total := decimal.Zero
			for _, d := range g.dividends {
				total = total.Add(d)
			}
			bars[i].DividendAmount = &total
		}
	}
}
