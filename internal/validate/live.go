package validate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

// PriceSource is the subset of the Price Provider the live validation
// phase needs.
type PriceSource interface {
	GetPrice(ctx context.Context, pair string) (decimal.Decimal, time.Duration, error)
}

// LiveValidate runs the live phase: for each rule that
// passed static validation, fetch its current price and flag threshold
// conditions that are already crossed, or offset gaps too tight to be
// meaningful. Only called when read-only credentials are available.
// The returned report's Issues and ConfigsWithErrors extend staticReport
// rather than replace it, so a caller's error/exit-code decision reflects
// both phases.
func LiveValidate(ctx context.Context, rules []types.Rule, staticReport Report, prices PriceSource) Report {
	report := staticReport
	if report.ConfigsWithErrors == nil {
		report.ConfigsWithErrors = make(map[string]bool)
	}

	for _, r := range rules {
		if staticReport.ConfigsWithErrors[r.ID] {
			continue // static phase already rejected this row
		}

		current, _, err := prices.GetPrice(ctx, r.Pair)
		if err != nil {
			report.addWarning(r.ID, "could not fetch current price for %s: %v", r.Pair, err)
			continue
		}

		crossed := false
		switch r.ThresholdType {
		case types.Above:
			crossed = current.GreaterThanOrEqual(r.ThresholdPrice)
		case types.Below:
			crossed = current.LessThanOrEqual(r.ThresholdPrice)
		}
		if crossed {
			report.addError(r.ID, "threshold already crossed: current price %s, threshold %s", current, r.ThresholdPrice)
			continue
		}

		gap := current.Sub(r.ThresholdPrice).Abs()
		offsetAbs := r.ThresholdPrice.Mul(r.TrailingOffsetPercent).Div(decimal.NewFromInt(100)).Abs()
		if offsetAbs.IsZero() {
			continue
		}
		ratio := gap.Div(offsetAbs)

		switch {
		case ratio.LessThan(decimal.NewFromInt(1)):
			report.addError(r.ID, "gap between price (%s) and threshold (%s) is smaller than trailing_offset (%sx)", current, r.ThresholdPrice, ratio.StringFixed(2))
		case ratio.LessThan(decimal.NewFromInt(2)):
			report.addWarning(r.ID, "gap between price (%s) and threshold (%s) is less than 2x trailing_offset (%sx)", current, r.ThresholdPrice, ratio.StringFixed(2))
		}
	}

	return report
}
