package persistence

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

var stateHeader = []string{
	"id", "triggered", "trigger_price", "trigger_time", "order_id", "offset",
	"last_checked", "fill_notified", "activated_on", "last_error", "error_notified",
}

const stateIDCol = 0

// StateStore reads and rewrites the rule-state CSV, one row per rule id,
// using the same atomic line-preserving write protocol as ConfigStore.
type StateStore struct {
	path string
}

// NewStateStore builds a StateStore for the state file at path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Load returns every rule's observed state, keyed by id.
func (s *StateStore) Load() (map[string]types.RuleState, error) {
	doc, err := LoadDocument(s.path)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	out := make(map[string]types.RuleState)
	for _, fields := range doc.Rows() {
		st := rowToState(fields)
		out[st.ID] = st
	}
	return out, nil
}

func rowToState(fields []string) types.RuleState {
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	st := types.RuleState{ID: get(0)}
	st.Triggered = get(1) == "true"
	if px, err := decimal.NewFromString(get(2)); err == nil {
		st.TriggerPrice = px
	}
	st.TriggerTime = parseTimeOrZero(get(3))
	st.OrderID = get(4)
	if off, err := decimal.NewFromString(get(5)); err == nil {
		st.Offset = off
	}
	st.LastChecked = parseTimeOrZero(get(6))
	st.FillNotified = get(7) == "true"
	st.ActivatedOn = parseTimeOrZero(get(8))
	st.LastError = get(9)
	st.ErrorNotified = get(10) == "true"
	return st
}

func stateToRow(st types.RuleState) []string {
	return []string{
		st.ID,
		boolStr(st.Triggered),
		st.TriggerPrice.String(),
		formatTimeOrEmpty(st.TriggerTime),
		st.OrderID,
		st.Offset.String(),
		formatTimeOrEmpty(st.LastChecked),
		boolStr(st.FillNotified),
		formatTimeOrEmpty(st.ActivatedOn),
		st.LastError,
		boolStr(st.ErrorNotified),
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Upsert writes st, replacing any existing row for st.ID or appending a
// new one, and saves the file atomically.
func (s *StateStore) Upsert(st types.RuleState) error {
	doc, err := LoadDocument(s.path)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if len(doc.Header) == 0 {
		doc.Header = stateHeader
	}
	doc.UpsertRow(stateIDCol, st.ID, stateToRow(st))
	if err := doc.Save(s.path); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// SaveAll rewrites the full state file from states, preserving the file's
// existing comment/blank lines. The rule engine uses it to flush every
// rule touched in a tick in one atomic write.
func (s *StateStore) SaveAll(states map[string]types.RuleState) error {
	doc, err := LoadDocument(s.path)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if len(doc.Header) == 0 {
		doc.Header = stateHeader
	}
	for _, st := range states {
		doc.UpsertRow(stateIDCol, st.ID, stateToRow(st))
	}
	if err := doc.Save(s.path); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}
