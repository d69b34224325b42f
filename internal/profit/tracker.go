// Package profit implements the profit tracker: an append-on-trigger,
// complete-on-fill trade log with a fixed sign rule for realized P&L.
// Each rule trigger opens one independent trade record; the fill that
// closes the exchange order closes the record.
package profit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/internal/persistence"
	"github.com/raymondclowe/ttslo/pkg/types"
)

// Tracker records the entry and exit legs of every rule's trailing-stop
// trade to the trade file.
type Tracker struct {
	store *persistence.TradeStore
}

// NewTracker builds a Tracker backed by the trade file at path.
func NewTracker(path string) *Tracker {
	return &Tracker{store: persistence.NewTradeStore(path)}
}

// RecordTrigger appends the entry leg of a new trade when a rule first
// transitions to triggered.
func (t *Tracker) RecordTrigger(ruleID, pair string, direction types.Direction, volume, entryPrice decimal.Decimal, at time.Time) error {
	rec := types.TradeRecord{
		TradeID:    tradeID(ruleID, at),
		ConfigID:   ruleID,
		Pair:       pair,
		Direction:  direction,
		Volume:     volume,
		EntryPrice: entryPrice,
		EntryTime:  at,
		Status:     types.TradeTriggered,
	}
	if err := t.store.Upsert(rec); err != nil {
		return fmt.Errorf("record trigger for %s: %w", ruleID, err)
	}
	return nil
}

// RecordFill completes the trade for ruleID with its exit leg, computing
// realized P&L by direction: sell realizes (entry-exit)*volume, buy
// realizes (exit-entry)*volume. The entry leg (by tradeID) must already
// exist.
func (t *Tracker) RecordFill(tradeIDStr string, exitPrice decimal.Decimal, at time.Time, fillOnly bool) error {
	records, err := t.store.Load()
	if err != nil {
		return fmt.Errorf("load trades for fill: %w", err)
	}

	var existing *types.TradeRecord
	for i := range records {
		if records[i].TradeID == tradeIDStr {
			existing = &records[i]
			break
		}
	}
	if existing == nil {
		return fmt.Errorf("no entry leg found for trade %s", tradeIDStr)
	}

	rec := *existing
	rec.ExitPrice = exitPrice
	rec.ExitTime = at
	rec.ProfitLoss = RealizedPnL(rec.Direction, rec.EntryPrice, exitPrice, rec.Volume)
	if !rec.EntryPrice.IsZero() {
		rec.ProfitLossPct = rec.ProfitLoss.Div(rec.EntryPrice.Mul(rec.Volume)).Mul(decimal.NewFromInt(100))
	}
	if fillOnly {
		rec.Status = types.TradeFillOnly
	} else {
		rec.Status = types.TradeCompleted
	}

	if err := t.store.Upsert(rec); err != nil {
		return fmt.Errorf("record fill for %s: %w", tradeIDStr, err)
	}
	return nil
}

// RealizedPnL computes realized profit/loss by direction. A sell order
// realizes a gain when the exit price is below the entry (trigger)
// price; a buy order realizes a gain when the exit is above it.
func RealizedPnL(direction types.Direction, entry, exit, volume decimal.Decimal) decimal.Decimal {
	switch direction {
	case types.Sell:
		return entry.Sub(exit).Mul(volume)
	case types.Buy:
		return exit.Sub(entry).Mul(volume)
	default:
		return decimal.Zero
	}
}

// TradeIDFor derives the stable trade id for a rule's current trigger,
// used by the rule engine to look the record back up on fill.
func TradeIDFor(ruleID string, triggerTime time.Time) string {
	return tradeID(ruleID, triggerTime)
}

// tradeID uses second precision: the trigger time round-trips through the
// state file as RFC3339, so sub-second digits would not survive a reload
// and the fill leg could never find its entry.
func tradeID(ruleID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", ruleID, at.Unix())
}
