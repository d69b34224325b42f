package persistence

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

func TestTradeStoreUpsertEntryThenExit(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "trades.csv")
	store := NewTradeStore(path)

	entry := types.TradeRecord{
		TradeID:    "trade-1",
		ConfigID:   "rule-1",
		Pair:       "XXBTZUSD",
		Direction:  types.Sell,
		Volume:     decimal.NewFromFloat(0.1),
		EntryPrice: decimal.NewFromInt(60000),
		Status:     types.TradeTriggered,
	}
	if err := store.Upsert(entry); err != nil {
		t.Fatalf("Upsert entry: %v", err)
	}

	exit := entry
	exit.ExitPrice = decimal.NewFromInt(61000)
	exit.ProfitLoss = decimal.NewFromInt(100)
	exit.Status = types.TradeCompleted
	if err := store.Upsert(exit); err != nil {
		t.Fatalf("Upsert exit: %v", err)
	}

	records, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 trade record (updated in place), got %d", len(records))
	}
	if records[0].Status != types.TradeCompleted {
		t.Errorf("Status = %v, want completed", records[0].Status)
	}
	if !records[0].ProfitLoss.Equal(decimal.NewFromInt(100)) {
		t.Errorf("ProfitLoss = %s, want 100", records[0].ProfitLoss)
	}
}
