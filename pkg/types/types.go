// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the daemon — rule config rows,
// rule lifecycle state, trade records, log entries, and notification
// queue items. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// ThresholdType is the comparison a Rule's threshold_price is evaluated with.
type ThresholdType string

const (
	Above ThresholdType = "above"
	Below ThresholdType = "below"
)

// Direction is the side of the trailing-stop order a Rule will submit.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Enabled is the tri-state (really four-state) lifecycle gate on a Rule.
// Only EnabledTrue makes a rule eligible for evaluation; the other three
// are all inert.
type Enabled string

const (
	EnabledTrue     Enabled = "true"
	EnabledFalse    Enabled = "false"
	EnabledPaused   Enabled = "paused"
	EnabledCanceled Enabled = "canceled"
)

// CredentialScope selects which credential pair (read-only vs read-write)
// a call requires.
type CredentialScope string

const (
	ScopeReadOnly  CredentialScope = "read_only"
	ScopeReadWrite CredentialScope = "read_write"
)

// OrderStatus mirrors the exchange-reported lifecycle of a submitted
// trailing-stop order, as returned by QueryOrders/ClosedOrders.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderClosed   OrderStatus = "closed"
	OrderCanceled OrderStatus = "canceled"
	OrderExpired  OrderStatus = "expired"
	OrderUnknown  OrderStatus = "unknown" // not found by the exchange
)

// TradeStatus is the lifecycle of a TradeRecord.
type TradeStatus string

const (
	TradeTriggered TradeStatus = "triggered"
	TradeCompleted TradeStatus = "completed"
	TradeFillOnly  TradeStatus = "filled_only"
)

// PriceTrigger is the price source flavor Kraken supports for stop orders.
type PriceTrigger string

const (
	TriggerIndex PriceTrigger = "index"
	TriggerLast  PriceTrigger = "last"
)

// EventKind is the fixed set of notification events the daemon can emit.
type EventKind string

const (
	EventConfigChanged        EventKind = "config_changed"
	EventValidationError      EventKind = "validation_error"
	EventTriggerReached       EventKind = "trigger_reached"
	EventTSLCreated           EventKind = "tsl_created"
	EventTSLFilled            EventKind = "tsl_filled"
	EventAppExit              EventKind = "app_exit"
	EventAPIError             EventKind = "api_error"
	EventInsufficientBalance  EventKind = "insufficient_balance"
	EventOrderFailed          EventKind = "order_failed"
	EventLinkedOrderActivated EventKind = "linked_order_activated"
)

// ExchangeErrorKind classifies an exchange.Error for upstream dispatch.
type ExchangeErrorKind string

const (
	ErrTimeout     ExchangeErrorKind = "timeout"
	ErrConnection  ExchangeErrorKind = "connection"
	ErrRateLimit   ExchangeErrorKind = "rate_limit"
	ErrServerError ExchangeErrorKind = "server_error"
	ErrOther       ExchangeErrorKind = "other"
)

// ————————————————————————————————————————————————————————————————————————
// Rule (config row) and RuleState (observed lifecycle)
// ————————————————————————————————————————————————————————————————————————

// Rule is one row of the config file: the user's declarative intent to
// arm a trailing-stop-loss once a spot price crosses threshold_price.
type Rule struct {
	ID                     string
	Pair                   string
	ThresholdPrice         decimal.Decimal
	ThresholdType          ThresholdType
	Direction              Direction
	Volume                 decimal.Decimal
	TrailingOffsetPercent  decimal.Decimal
	EnabledState           Enabled
	LinkedOrderID          string // optional, empty if none
	Account                string // optional, defaults to "primary"

	// Raw holds the original CSV fields for this row as last read; the
	// static validator checks the numeric columns from these strings.
	Raw []string
}

// AccountOrDefault returns Account, defaulting to "primary".
func (r Rule) AccountOrDefault() string {
	if r.Account == "" {
		return "primary"
	}
	return r.Account
}

// IsPending reports whether the rule is armable: enabled=true and not yet
// triggered. Callers pass in the RuleState since Rule alone can't know.
func (r Rule) IsPending(st RuleState) bool {
	return r.EnabledState == EnabledTrue && !st.Triggered
}

// RuleState is the observed lifecycle of a Rule, keyed by Rule.ID.
type RuleState struct {
	ID             string
	Triggered      bool
	TriggerPrice   decimal.Decimal
	TriggerTime    time.Time
	OrderID        string
	Offset         decimal.Decimal
	LastChecked    time.Time
	FillNotified   bool
	ActivatedOn    time.Time
	LastError      string
	ErrorNotified  bool
}

// IsArmed reports whether the rule has a live order awaiting fill.
func (s RuleState) IsArmed() bool {
	return s.Triggered && s.OrderID != "" && !s.FillNotified
}

// IsTerminal reports whether the rule's lifecycle has reached a terminal
// state (fill observed, or explicitly canceled/expired and notified).
func (s RuleState) IsTerminal() bool {
	return s.Triggered && s.FillNotified
}

// ————————————————————————————————————————————————————————————————————————
// Audit and trade records
// ————————————————————————————————————————————————————————————————————————

// LogEntry is a timestamped audit record appended to the log CSV.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Component string
	ConfigID  string
	Message   string
	Details   string
}

// TradeRecord is one row per rule transition in the profit-tracker trade
// file: an entry leg recorded on trigger, an exit leg completed on fill.
type TradeRecord struct {
	TradeID       string
	ConfigID      string
	Pair          string
	Direction     Direction
	Volume        decimal.Decimal
	EntryPrice    decimal.Decimal
	ExitPrice     decimal.Decimal
	EntryTime     time.Time
	ExitTime      time.Time
	ProfitLoss    decimal.Decimal
	ProfitLossPct decimal.Decimal
	Status        TradeStatus
	Notes         string
}

// ————————————————————————————————————————————————————————————————————————
// Notifications
// ————————————————————————————————————————————————————————————————————————

// NotificationQueueItem is one pending or historical outbound message.
type NotificationQueueItem struct {
	Recipient  string    `json:"recipient"`
	EventKind  EventKind `json:"event_kind"`
	Body       string    `json:"body"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Exchange-facing types
// ————————————————————————————————————————————————————————————————————————

// PriceQuote is a single pair's last-trade price with the time it was
// observed, as delivered by the exchange ticker feed.
type PriceQuote struct {
	Pair       string
	Price      decimal.Decimal
	ReceivedAt time.Time
}

// Balances maps asset code (e.g. "XXBT", "ZUSD", "XXBT.F") to the
// available quantity, as returned by the exchange Balance call.
type Balances map[string]decimal.Decimal

// OrderSummary is the subset of exchange order fields the fill-monitor and
// reconciliation logic need.
type OrderSummary struct {
	OrderID   string
	Status    OrderStatus
	FillPrice decimal.Decimal // zero if not yet known
}

// TrailingStopParams is the fully-resolved set of parameters for
// submitting a trailing-stop order, independent of wire format.
type TrailingStopParams struct {
	Pair      string
	Direction Direction
	Volume    decimal.Decimal
	OffsetPct decimal.Decimal
	Trigger   PriceTrigger
}
