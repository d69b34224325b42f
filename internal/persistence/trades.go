package persistence

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

var tradeHeader = []string{
	"trade_id", "config_id", "pair", "direction", "volume", "entry_price",
	"exit_price", "entry_time", "exit_time", "profit_loss", "profit_loss_pct",
	"status", "notes",
}

const tradeIDCol = 0

// TradeStore reads and rewrites the profit tracker's trade-record CSV. A
// trade is first appended with its entry leg recorded on trigger, then
// updated in place when its exit leg completes on fill, so unlike the
// log file this uses the same upsert-on-id pattern as config/state.
type TradeStore struct {
	path string
}

// NewTradeStore builds a TradeStore for the trade file at path.
func NewTradeStore(path string) *TradeStore {
	return &TradeStore{path: path}
}

// Load returns every trade record in file order.
func (s *TradeStore) Load() ([]types.TradeRecord, error) {
	doc, err := LoadDocument(s.path)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	out := make([]types.TradeRecord, 0, len(doc.Rows()))
	for _, fields := range doc.Rows() {
		out = append(out, rowToTrade(fields))
	}
	return out, nil
}

func rowToTrade(fields []string) types.TradeRecord {
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	parseDec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	return types.TradeRecord{
		TradeID:       get(0),
		ConfigID:      get(1),
		Pair:          get(2),
		Direction:     types.Direction(get(3)),
		Volume:        parseDec(get(4)),
		EntryPrice:    parseDec(get(5)),
		ExitPrice:     parseDec(get(6)),
		EntryTime:     parseTimeOrZero(get(7)),
		ExitTime:      parseTimeOrZero(get(8)),
		ProfitLoss:    parseDec(get(9)),
		ProfitLossPct: parseDec(get(10)),
		Status:        types.TradeStatus(get(11)),
		Notes:         get(12),
	}
}

func tradeToRow(t types.TradeRecord) []string {
	return []string{
		t.TradeID,
		t.ConfigID,
		t.Pair,
		string(t.Direction),
		t.Volume.String(),
		t.EntryPrice.String(),
		t.ExitPrice.String(),
		formatTimeOrEmpty(t.EntryTime),
		formatTimeOrEmpty(t.ExitTime),
		t.ProfitLoss.String(),
		t.ProfitLossPct.String(),
		string(t.Status),
		t.Notes,
	}
}

// Upsert writes t, replacing any existing row with the same TradeID or
// appending a new one.
func (s *TradeStore) Upsert(t types.TradeRecord) error {
	doc, err := LoadDocument(s.path)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	if len(doc.Header) == 0 {
		doc.Header = tradeHeader
	}
	doc.UpsertRow(tradeIDCol, t.TradeID, tradeToRow(t))
	if err := doc.Save(s.path); err != nil {
		return fmt.Errorf("save trades: %w", err)
	}
	return nil
}
