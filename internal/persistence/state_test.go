package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

func TestStateStoreUpsertAndLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.csv")
	store := NewStateStore(path)

	st := types.RuleState{
		ID:           "rule-1",
		Triggered:    true,
		TriggerPrice: decimal.NewFromInt(60000),
		TriggerTime:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		OrderID:      "ORDER-1",
		Offset:       decimal.NewFromFloat(5.0),
	}
	if err := store.Upsert(st); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := loaded["rule-1"]
	if !ok {
		t.Fatal("rule-1 not found after upsert")
	}
	if !got.Triggered || got.OrderID != "ORDER-1" {
		t.Errorf("unexpected state: %+v", got)
	}
	if !got.TriggerTime.Equal(st.TriggerTime) {
		t.Errorf("TriggerTime = %v, want %v", got.TriggerTime, st.TriggerTime)
	}
}

func TestStateStoreUpsertOverwritesSameID(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.csv")
	store := NewStateStore(path)

	_ = store.Upsert(types.RuleState{ID: "rule-1", Triggered: false})
	_ = store.Upsert(types.RuleState{ID: "rule-1", Triggered: true, OrderID: "ORDER-9"})

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 row, got %d", len(loaded))
	}
	if !loaded["rule-1"].Triggered || loaded["rule-1"].OrderID != "ORDER-9" {
		t.Errorf("second upsert should win: %+v", loaded["rule-1"])
	}
}

func TestStateStoreSaveAll(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.csv")
	store := NewStateStore(path)

	states := map[string]types.RuleState{
		"rule-1": {ID: "rule-1", Triggered: true},
		"rule-2": {ID: "rule-2", Triggered: false},
	}
	if err := store.SaveAll(states); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(loaded))
	}
}
