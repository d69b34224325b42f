package persistence

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/pkg/types"
)

var configHeader = []string{
	"id", "pair", "threshold_price", "threshold_type", "direction",
	"volume", "trailing_offset_percent", "enabled", "linked_order_id", "account",
}

const configIDCol = 0

// ConfigStore reads and rewrites the rule config CSV, preserving comments
// and blank lines across every write.
type ConfigStore struct {
	path string
}

// NewConfigStore builds a ConfigStore for the config file at path.
func NewConfigStore(path string) *ConfigStore {
	return &ConfigStore{path: path}
}

// Path returns the config file path this store was constructed with.
func (s *ConfigStore) Path() string {
	return s.path
}

// Load parses every data row into a types.Rule. Malformed rows are still
// returned, with Raw populated and every field that parses filled in; a
// numeric column that does not parse is left at zero. The validator can
// then flag them by id (or row position, if id itself is empty) without
// the reload phase itself failing.
func (s *ConfigStore) Load() ([]types.Rule, error) {
	doc, err := LoadDocument(s.path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rows := doc.Rows()
	rules := make([]types.Rule, 0, len(rows))
	for _, fields := range rows {
		rules = append(rules, rowToRule(fields))
	}
	return rules, nil
}

func rowToRule(fields []string) types.Rule {
	r := types.Rule{Raw: fields}
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	r.ID = get(0)
	r.Pair = get(1)
	if px, err := decimal.NewFromString(get(2)); err == nil {
		r.ThresholdPrice = px
	}
	r.ThresholdType = types.ThresholdType(get(3))
	r.Direction = types.Direction(get(4))
	if vol, err := decimal.NewFromString(get(5)); err == nil {
		r.Volume = vol
	}
	// The offset column accepts both "5.0" and the exchange's "+5.0%" form.
	offRaw := strings.TrimSuffix(strings.TrimPrefix(get(6), "+"), "%")
	if off, err := decimal.NewFromString(offRaw); err == nil {
		r.TrailingOffsetPercent = off
	}
	r.EnabledState = types.Enabled(get(7))
	r.LinkedOrderID = get(8)
	r.Account = get(9)
	return r
}

func ruleToRow(r types.Rule) []string {
	return []string{
		r.ID,
		r.Pair,
		r.ThresholdPrice.String(),
		string(r.ThresholdType),
		string(r.Direction),
		r.Volume.String(),
		r.TrailingOffsetPercent.String(),
		string(r.EnabledState),
		r.LinkedOrderID,
		r.Account,
	}
}

// SetEnabled rewrites only the enabled column for rule id, preserving
// every other field and every comment/blank line. Used both by the
// validation auto-disable path and by chain activation.
func (s *ConfigStore) SetEnabled(id string, enabled types.Enabled) error {
	doc, err := LoadDocument(s.path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(doc.Header) == 0 {
		doc.Header = configHeader
	}

	fields, ok := doc.FindRow(configIDCol, id)
	if !ok {
		return fmt.Errorf("config: rule %q not found", id)
	}
	updated := append([]string(nil), fields...)
	for len(updated) <= 7 {
		updated = append(updated, "")
	}
	updated[7] = string(enabled)

	doc.UpdateRow(configIDCol, id, updated)
	if err := doc.Save(s.path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// WriteSample writes a commented template config file without touching
// any existing file content, for `--create-sample-config`. If a file
// already exists at path it is left as it is and an error is returned.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("sample config: %s already exists", path)
	}
	doc := &Document{Header: configHeader}
	doc.lines = append(doc.lines,
		lineRow{raw: "# TTSLO rule configuration."},
		lineRow{raw: "# Columns: " + joinHeader(configHeader)},
		lineRow{raw: "#"},
		lineRow{raw: "# id           unique identifier for this rule"},
		lineRow{raw: "# pair         exchange pair symbol, e.g. XXBTZUSD"},
		lineRow{raw: "# threshold_type  above | below"},
		lineRow{raw: "# direction    buy | sell"},
		lineRow{raw: "# enabled      true | false | paused | canceled"},
		lineRow{raw: "# linked_order_id, account are optional"},
		lineRow{raw: ""},
	)
	doc.AppendRow([]string{
		"example-1", "XXBTZUSD", "60000", "above", "sell",
		"0.1", "5.0", "false", "", "primary",
	})
	return doc.Save(path)
}

func joinHeader(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// parseTimeOrZero parses an RFC3339 timestamp, returning the zero Time on
// a blank or malformed value rather than an error — config/state rows may
// legitimately have never-set timestamp columns.
func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTimeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
