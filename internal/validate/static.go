// Package validate implements the daemon's two-phase config validator: a
// static phase that rejects malformed or unsafe rows independent of any
// network access, and a live phase that additionally checks a row's
// threshold against the current market price.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/internal/exchange"
	"github.com/raymondclowe/ttslo/pkg/types"
)

// Severity distinguishes a hard rejection from an informational warning.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single finding against one rule.
type Issue struct {
	RuleID   string
	Severity Severity
	Message  string
}

// Report is the result of a validation pass.
type Report struct {
	Issues           []Issue
	ConfigsWithErrors map[string]bool // rule ids with at least one error-severity issue
}

func (r *Report) addError(ruleID, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{RuleID: ruleID, Severity: SeverityError, Message: fmt.Sprintf(format, args...)})
	if r.ConfigsWithErrors == nil {
		r.ConfigsWithErrors = make(map[string]bool)
	}
	r.ConfigsWithErrors[ruleID] = true
}

func (r *Report) addWarning(ruleID, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{RuleID: ruleID, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether the report contains at least one error.
func (r *Report) HasErrors() bool {
	return len(r.ConfigsWithErrors) > 0
}

var pairPattern = regexp.MustCompile(`^[A-Z0-9]{5,}$`)

// StaticValidate runs the static phase against every row, independent of
// network access.
func StaticValidate(rules []types.Rule) Report {
	report := Report{ConfigsWithErrors: make(map[string]bool)}

	seenIDs := make(map[string]int)
	knownIDs := make(map[string]bool, len(rules))
	for _, r := range rules {
		seenIDs[r.ID]++
		knownIDs[r.ID] = true
	}

	for i, r := range rules {
		rowLabel := r.ID
		if rowLabel == "" {
			rowLabel = fmt.Sprintf("<row %d>", i+1)
		}

		if r.ID == "" {
			report.addError(rowLabel, "id is empty")
		} else if seenIDs[r.ID] > 1 {
			report.addError(rowLabel, "duplicate id %q", r.ID)
		}

		if r.Pair == "" {
			report.addError(rowLabel, "pair is empty")
		} else if !pairPattern.MatchString(r.Pair) {
			report.addError(rowLabel, "pair %q does not look like a valid exchange symbol", r.Pair)
		}

		validateNumericField(&report, rowLabel, "threshold_price", rawField(r, 2), true)
		validateNumericField(&report, rowLabel, "volume", rawField(r, 5), true)
		validateOffsetField(&report, rowLabel, rawField(r, 6))

		if r.ThresholdType != types.Above && r.ThresholdType != types.Below {
			report.addError(rowLabel, "threshold_type %q is not 'above' or 'below'", r.ThresholdType)
		}
		if r.Direction != types.Buy && r.Direction != types.Sell {
			report.addError(rowLabel, "direction %q is not 'buy' or 'sell'", r.Direction)
		}
		switch r.EnabledState {
		case types.EnabledTrue, types.EnabledFalse, types.EnabledPaused, types.EnabledCanceled:
		default:
			report.addError(rowLabel, "enabled %q is not a recognized state", r.EnabledState)
		}

		if r.LinkedOrderID != "" {
			if r.LinkedOrderID == r.ID {
				report.addError(rowLabel, "linked_order_id references itself")
			} else if !knownIDs[r.LinkedOrderID] {
				report.addError(rowLabel, "linked_order_id %q does not exist", r.LinkedOrderID)
			}
		}

		if r.Pair != "" && exchange.IsFiatOrBTCQuoted(r.Pair) {
			if !financialResponsibilityOK(r.ThresholdType, r.Direction) {
				report.addError(rowLabel,
					"combination threshold_type=%s/direction=%s is not permitted for fiat/BTC-quoted pair %q (only above+sell or below+buy)",
					r.ThresholdType, r.Direction, r.Pair)
			}
		}
	}

	if cycle := findCycle(rules); cycle != "" {
		report.addError(cycle, "rule is part of a linked_order_id cycle")
	}

	return report
}

func rawField(r types.Rule, i int) string {
	if i < len(r.Raw) {
		return r.Raw[i]
	}
	return ""
}

func validateNumericField(report *Report, ruleID, field, raw string, mustBePositive bool) {
	if raw == "" {
		report.addError(ruleID, "%s is empty", field)
		return
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		report.addError(ruleID, "%s %q is not a valid number", field, raw)
		return
	}
	if mustBePositive && !d.IsPositive() {
		report.addError(ruleID, "%s must be a positive, non-zero quantity, got %s", field, raw)
	}
}

func validateOffsetField(report *Report, ruleID, raw string) {
	if raw == "" {
		report.addError(ruleID, "trailing_offset_percent is empty")
		return
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(raw, "+"), "%")
	d, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		report.addError(ruleID, "trailing_offset_percent %q is not a valid percentage", raw)
		return
	}
	if d <= 0 {
		report.addError(ruleID, "trailing_offset_percent must be positive, got %q", raw)
	}
}

// financialResponsibilityOK is the admissible-combination rule for
// fiat/BTC-quoted pairs: only (above, sell) and (below, buy) protect
// against buying into a rise or selling into a drop.
func financialResponsibilityOK(tt types.ThresholdType, dir types.Direction) bool {
	return (tt == types.Above && dir == types.Sell) || (tt == types.Below && dir == types.Buy)
}

// findCycle runs a DFS over the linked_order_id graph and returns the id
// of a rule participating in a cycle, or "" if the graph is acyclic.
func findCycle(rules []types.Rule) string {
	next := make(map[string]string, len(rules))
	for _, r := range rules {
		if r.LinkedOrderID != "" {
			next[r.ID] = r.LinkedOrderID
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(rules))

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		if succ, ok := next[id]; ok {
			if cyc := visit(succ); cyc != "" {
				return cyc
			}
		}
		state[id] = done
		return ""
	}

	for _, r := range rules {
		if cyc := visit(r.ID); cyc != "" {
			return cyc
		}
	}
	return ""
}
