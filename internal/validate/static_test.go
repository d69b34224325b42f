package validate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/raymondclowe/ttslo/pkg/types"
)

func validRule(id string) types.Rule {
	return types.Rule{
		ID:                    id,
		Pair:                  "XXBTZUSD",
		ThresholdPrice:        decimal.NewFromInt(60000),
		ThresholdType:         types.Below,
		Direction:             types.Buy,
		Volume:                decimal.NewFromFloat(0.1),
		TrailingOffsetPercent: decimal.NewFromFloat(5.0),
		EnabledState:          types.EnabledTrue,
		Raw: []string{
			id, "XXBTZUSD", "60000", "below", "buy", "0.1", "+5.0%", "true", "", "primary",
		},
	}
}

func TestStaticValidateAcceptsWellFormedRow(t *testing.T) {
	t.Parallel()
	report := StaticValidate([]types.Rule{validRule("rule-1")})
	assert.False(t, report.HasErrors(), "issues: %+v", report.Issues)
}

func TestStaticValidateRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	report := StaticValidate([]types.Rule{validRule("dup"), validRule("dup")})
	assert.True(t, report.ConfigsWithErrors["dup"], "duplicate id should be flagged")
}

func TestStaticValidateRejectsEmptyID(t *testing.T) {
	t.Parallel()
	report := StaticValidate([]types.Rule{validRule("")})
	assert.True(t, report.HasErrors(), "empty id should be rejected")
}

func TestStaticValidateRejectsMalformedNumeric(t *testing.T) {
	t.Parallel()
	r := validRule("rule-1")
	r.Raw[2] = "not-a-number"
	report := StaticValidate([]types.Rule{r})
	assert.True(t, report.ConfigsWithErrors["rule-1"], "malformed threshold_price should be rejected")
}

func TestStaticValidateRejectsNegativeVolume(t *testing.T) {
	t.Parallel()
	r := validRule("rule-1")
	r.Raw[5] = "-1"
	report := StaticValidate([]types.Rule{r})
	assert.True(t, report.ConfigsWithErrors["rule-1"], "negative volume should be rejected")
}

func TestStaticValidateRejectsZeroVolume(t *testing.T) {
	t.Parallel()
	r := validRule("rule-1")
	r.Raw[5] = "0"
	report := StaticValidate([]types.Rule{r})
	assert.True(t, report.ConfigsWithErrors["rule-1"], "zero volume should be rejected")
}

func TestStaticValidateRejectsUnknownEnum(t *testing.T) {
	t.Parallel()
	r := validRule("rule-1")
	r.Direction = "sideways"
	report := StaticValidate([]types.Rule{r})
	assert.True(t, report.ConfigsWithErrors["rule-1"], "unknown direction should be rejected")
}

func TestStaticValidateRejectsSelfLink(t *testing.T) {
	t.Parallel()
	r := validRule("rule-1")
	r.LinkedOrderID = "rule-1"
	report := StaticValidate([]types.Rule{r})
	assert.True(t, report.ConfigsWithErrors["rule-1"], "self-link should be rejected")
}

func TestStaticValidateRejectsUnknownSuccessor(t *testing.T) {
	t.Parallel()
	r := validRule("rule-1")
	r.LinkedOrderID = "ghost"
	report := StaticValidate([]types.Rule{r})
	assert.True(t, report.ConfigsWithErrors["rule-1"], "unknown successor id should be rejected")
}

func TestStaticValidateDetectsCycle(t *testing.T) {
	t.Parallel()
	a := validRule("a")
	a.LinkedOrderID = "b"
	b := validRule("b")
	b.LinkedOrderID = "a"

	report := StaticValidate([]types.Rule{a, b})
	assert.True(t, report.HasErrors(), "cycle a->b->a should be rejected")
}

func TestStaticValidateFinancialResponsibilityRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold types.ThresholdType
		direction types.Direction
		wantError bool
	}{
		{"above+sell is safe", types.Above, types.Sell, false},
		{"below+buy is safe", types.Below, types.Buy, false},
		{"above+buy buys into a rise", types.Above, types.Buy, true},
		{"below+sell sells into a drop", types.Below, types.Sell, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := validRule("rule-1")
			r.ThresholdType = tt.threshold
			r.Direction = tt.direction
			r.Raw[3] = string(tt.threshold)
			r.Raw[4] = string(tt.direction)

			report := StaticValidate([]types.Rule{r})
			assert.Equal(t, tt.wantError, report.ConfigsWithErrors["rule-1"], "issues: %+v", report.Issues)
		})
	}
}

func TestStaticValidateExemptsExoticCryptoPair(t *testing.T) {
	t.Parallel()
	r := validRule("rule-1")
	r.Pair = "SOLXETH" // crypto-to-crypto, not fiat/BTC quoted
	r.ThresholdType = types.Above
	r.Direction = types.Buy
	r.Raw[1] = r.Pair
	r.Raw[3] = string(r.ThresholdType)
	r.Raw[4] = string(r.Direction)

	report := StaticValidate([]types.Rule{r})
	assert.False(t, report.HasErrors(), "exotic pair should be exempt from the financial-responsibility rule: %+v", report.Issues)
}
