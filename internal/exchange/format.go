package exchange

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

// FormatVolume renders a volume as the decimal string Kraken expects,
// with trailing zeros trimmed the way shopspring/decimal does by default.
func FormatVolume(v decimal.Decimal) string {
	return v.String()
}

// FormatOffset renders a trailing-offset percentage as Kraken's "+X.X%"
// form: sign always "+", exactly one decimal place, percent suffix.
func FormatOffset(pct decimal.Decimal) string {
	return fmt.Sprintf("+%s%%", pct.StringFixed(1))
}

// ParseOffset is the round-trip inverse of FormatOffset: parse("+5.0%") = 5.0.
func ParseOffset(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(s, "+"), "%")
	return decimal.NewFromString(trimmed)
}

// krakenOrderType is the literal ordertype string Kraken expects for a
// trailing stop.
const krakenOrderType = "trailing-stop"

// krakenSide renders Direction as Kraken's lower-case "buy"/"sell".
func krakenSide(d types.Direction) string {
	return strings.ToLower(string(d))
}

// baseAsset extracts the base-asset code from a Kraken pair symbol such as
// "XXBTZUSD" by stripping the well-known quote suffixes. Kraken pair codes
// are not fixed-width, so suffixes are tried longest-first.
func baseAsset(pair string) string {
	for _, quote := range quoteAssetsByLength() {
		if strings.HasSuffix(pair, quote) && len(pair) > len(quote) {
			return pair[:len(pair)-len(quote)]
		}
	}
	return pair
}

// quoteAssets enumerates Kraken's fiat/stablecoin/BTC quote codes, used
// both for base-asset extraction and the financial-responsibility rule.
// Includes venue-specific "Z"-prefixed fiat codes (ZUSD, ZEUR, ...).
var quoteAssets = []string{
	"ZUSD", "ZEUR", "ZGBP", "ZJPY", "ZCAD", "ZAUD", "ZCHF",
	"USDT", "USDC", "DAI", "BUSD",
	"USD", "EUR", "GBP", "JPY",
	"XXBT", "XBT",
}

func quoteAssetsByLength() []string {
	out := make([]string, len(quoteAssets))
	copy(out, quoteAssets)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if len(out[j]) > len(out[i]) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// IsFiatOrBTCQuoted reports whether pair's quote asset is a fiat
// currency, stablecoin, or BTC. These pairs are the ones subject to the
// financial-responsibility rule.
func IsFiatOrBTCQuoted(pair string) bool {
	upper := strings.ToUpper(pair)
	for _, quote := range quoteAssetsByLength() {
		if strings.HasSuffix(upper, quote) && len(upper) > len(quote) {
			return true
		}
	}
	return false
}

// aggregateBalance sums balances of an asset and its spot-wallet suffix
// variants (e.g. "XXBT" + "XXBT.F" for flexible-staked holdings).
func aggregateBalance(balances types.Balances, asset string) decimal.Decimal {
	total := decimal.Zero
	for code, qty := range balances {
		if code == asset || strings.HasPrefix(code, asset+".") {
			total = total.Add(qty)
		}
	}
	return total
}

// BaseAsset extracts pair's base-asset code, exported for the rule
// engine's sell-side balance check.
func BaseAsset(pair string) string {
	return baseAsset(pair)
}

// QuoteAsset extracts pair's quote-asset code by finding the longest
// matching suffix from quoteAssets, exported for the rule engine's
// buy-side balance check (buying requires volume times price of the
// quote asset).
func QuoteAsset(pair string) string {
	upper := strings.ToUpper(pair)
	for _, quote := range quoteAssetsByLength() {
		if strings.HasSuffix(upper, quote) && len(upper) > len(quote) {
			return upper[len(upper)-len(quote):]
		}
	}
	return ""
}

// AggregateBalance sums balances of an asset and its spot-wallet suffix
// variants, exported for the rule engine's balance check.
func AggregateBalance(balances types.Balances, asset string) decimal.Decimal {
	return aggregateBalance(balances, asset)
}
