// Package engine implements the rule engine: a single supervisory loop
// that, once per fixed interval, reloads config, warms the price cache,
// evaluates threshold crossings, submits trailing-stop orders under a
// paranoid pre-flight discipline, polls armed orders for fills, activates
// chained successor rules, and flushes state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raymondclowe/ttslo/internal/exchange"
	"github.com/raymondclowe/ttslo/internal/notify"
	"github.com/raymondclowe/ttslo/internal/persistence"
	"github.com/raymondclowe/ttslo/internal/profit"
	"github.com/raymondclowe/ttslo/internal/validate"
	"github.com/raymondclowe/ttslo/pkg/types"
)

// maxMissingPolls is the number of consecutive ticks an armed order may
// go unqueryable before reconciliation gives up on it.
const maxMissingPolls = 3

// PriceSource is the subset of *price.Provider the engine depends on.
type PriceSource interface {
	GetPrice(ctx context.Context, pair string) (decimal.Decimal, time.Duration, error)
	WarmCache(ctx context.Context, pairs []string) error
}

// Exchange is the subset of *exchange.Client the engine depends on.
type Exchange interface {
	Balance(ctx context.Context, account string) (types.Balances, error)
	AddTrailingStop(ctx context.Context, account string, params types.TrailingStopParams) (string, error)
	QueryOrders(ctx context.Context, account string, ids []string) (map[string]types.OrderSummary, error)
	HasReadWrite(account string) bool
}

// Engine is the per-tick scheduler.
type Engine struct {
	configStore *persistence.ConfigStore
	stateStore  *persistence.StateStore
	logStore    *persistence.LogStore
	coordinator *persistence.Coordinator

	prices  PriceSource
	exch    Exchange
	queue   *notify.Queue
	tracker *profit.Tracker

	interval time.Duration
	dryRun   bool

	// missingPolls counts consecutive ticks an armed rule's order_id went
	// unqueryable. Held in memory only: consecutive ticks is a per-process
	// notion and the state file's schema has no column for it.
	missingPolls map[string]int

	// lastConfigMtime detects external config edits between ticks, so a
	// config_changed notification goes out when the file is touched.
	lastConfigMtime time.Time
	configSeen      bool

	// unsaved holds state mutations that could not be flushed to disk
	// (editor coordination active, dry-run, or a write failure). Merged
	// over the on-disk view at the start of every tick so a rule armed
	// during a write-suppressed window cannot re-trigger.
	unsaved map[string]types.RuleState

	logger *slog.Logger
}

// Config bundles the constructor arguments for New.
type Config struct {
	ConfigPath string
	StatePath  string
	LogPath    string
	Interval   time.Duration
	DryRun     bool
}

// New wires an Engine from its already-constructed subsystem handles.
// The supervisor is responsible for building these and calling New.
func New(cfg Config, prices PriceSource, exch Exchange, queue *notify.Queue, tracker *profit.Tracker, logger *slog.Logger) (*Engine, error) {
	logStore, err := persistence.NewLogStore(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	return &Engine{
		configStore:  persistence.NewConfigStore(cfg.ConfigPath),
		stateStore:   persistence.NewStateStore(cfg.StatePath),
		logStore:     logStore,
		coordinator:  persistence.NewCoordinator(cfg.ConfigPath),
		prices:       prices,
		exch:         exch,
		queue:        queue,
		tracker:      tracker,
		interval:     cfg.Interval,
		dryRun:       cfg.DryRun,
		missingPolls: make(map[string]int),
		unsaved:      make(map[string]types.RuleState),
		logger:       logger.With("component", "engine"),
	}, nil
}

// Run executes ticks on a fixed interval until ctx is cancelled. The
// in-flight tick always finishes: cancellation is only observed between
// ticks, which is what lets shutdown complete the current sweep.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	tickCtx := context.WithoutCancel(ctx)
	e.runTick(tickCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runTick(tickCtx)
		}
	}
}

// RunOnce executes exactly one tick, for `--once` mode.
func (e *Engine) RunOnce(ctx context.Context) {
	e.runTick(ctx)
}

func (e *Engine) runTick(ctx context.Context) {
	if err := e.Tick(ctx); err != nil {
		e.logger.Error("tick failed", "error", err)
	}
}

// Tick runs one full sweep: reload, price warm, evaluation, order
// submission, fill polling, chain activation, persistence.
func (e *Engine) Tick(ctx context.Context) error {
	if err := e.coordinator.Poll(); err != nil {
		e.logger.Error("coordinator poll failed", "error", err)
	}
	writesAllowed := e.coordinator.WritesAllowed() && !e.dryRun
	if !writesAllowed {
		e.logger.Info("tick writes suppressed", "editor_coordination", !e.coordinator.WritesAllowed(), "dry_run", e.dryRun)
	}

	// Phase 1: reload.
	rules, err := e.reload(ctx, writesAllowed)
	if err != nil {
		e.logger.Error("reload failed, keeping previous config view", "error", err)
		return nil
	}

	states, err := e.stateStore.Load()
	if err != nil {
		e.logger.Error("failed to load state", "error", err)
		states = make(map[string]types.RuleState)
	}
	for id, st := range e.unsaved {
		states[id] = st
	}

	ruleByID := make(map[string]types.Rule, len(rules))
	for _, r := range rules {
		ruleByID[r.ID] = r
	}

	// Phase 2: price acquisition. When the batch warm succeeds, every
	// pending rule's pair it returns has a price no older than the start of
	// this tick before the evaluation phase reads it; a failed warm is
	// logged and readers fall back to the Price Provider's own path.
	pairs := distinctPendingPairs(rules, states)
	if err := e.prices.WarmCache(ctx, pairs); err != nil {
		e.logger.Warn("price warm-cache failed", "error", err)
	}

	dirty := false

	// Phase 3 + 4: evaluation and order phase, per pending rule. Each
	// rule's error is absorbed locally so one bad rule never blocks the
	// rest of the sweep.
	newlyArmed := make(map[string]bool)
	for _, r := range rules {
		st := states[r.ID]
		if !r.IsPending(st) {
			continue
		}
		if e.evaluateAndOrder(ctx, r, &st) {
			states[r.ID] = st
			dirty = true
			if st.Triggered {
				newlyArmed[r.ID] = true
			}
		}
	}

	// Phase 5: fill monitoring. Rules armed this tick are not polled
	// until the next one: pending -> triggered and triggered ->
	// fill-notified never happen in the same tick.
	filledRuleIDs, statesChanged := e.pollFills(ctx, rules, states, newlyArmed)
	if statesChanged {
		dirty = true
	}

	// Phase 6: chain activation.
	for _, ruleID := range filledRuleIDs {
		r, ok := ruleByID[ruleID]
		if !ok || r.LinkedOrderID == "" {
			continue
		}
		e.activateSuccessor(ctx, r, ruleByID, states, writesAllowed)
	}

	// Phase 7: persistence. Changes that cannot be flushed are carried in
	// memory so the next tick sees them.
	if dirty {
		switch {
		case !writesAllowed:
			e.unsaved = cloneStates(states)
			e.logger.Info("state changes retained in memory until writes resume")
		default:
			if err := e.stateStore.SaveAll(states); err != nil {
				e.logger.Error("failed to persist state", "error", err)
				e.unsaved = cloneStates(states)
			} else {
				e.unsaved = make(map[string]types.RuleState)
			}
		}
	}

	return nil
}

func cloneStates(states map[string]types.RuleState) map[string]types.RuleState {
	out := make(map[string]types.RuleState, len(states))
	for id, st := range states {
		out[id] = st
	}
	return out
}

// reload re-reads the config file, re-validates it statically, and
// auto-disables any row with a static error. A crash after exchange
// acceptance but before the state write leaves no order_id to reconcile
// against until the rule is re-armed; the fill monitoring phase already
// recovers every case where an order_id was in fact persisted, so no
// separate reconciliation pass is needed here.
func (e *Engine) reload(ctx context.Context, writesAllowed bool) ([]types.Rule, error) {
	rules, err := e.configStore.Load()
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}

	if info, err := os.Stat(e.configStore.Path()); err == nil {
		if e.configSeen && !info.ModTime().Equal(e.lastConfigMtime) {
			e.logAndNotify(ctx, "info", "", "configuration file changed on disk", types.EventConfigChanged)
		}
		e.lastConfigMtime = info.ModTime()
		e.configSeen = true
	}

	report := validate.StaticValidate(rules)
	if !writesAllowed {
		return rules, nil
	}

	for id := range report.ConfigsWithErrors {
		var rule types.Rule
		found := false
		for _, r := range rules {
			if r.ID == id {
				rule = r
				found = true
				break
			}
		}
		if !found || rule.EnabledState == types.EnabledFalse {
			continue
		}
		if err := e.configStore.SetEnabled(id, types.EnabledFalse); err != nil {
			e.logger.Error("auto-disable failed", "rule_id", id, "error", err)
			continue
		}
		e.logAndNotify(ctx, "warn", id, "auto-disabled: static validation failed", types.EventValidationError)
	}

	return rules, nil
}

// distinctPendingPairs returns the set of pairs belonging to enabled,
// not-yet-triggered rules — the pairs the evaluation phase needs a fresh
// price for.
func distinctPendingPairs(rules []types.Rule, states map[string]types.RuleState) []string {
	seen := make(map[string]bool)
	var pairs []string
	for _, r := range rules {
		if !r.IsPending(states[r.ID]) {
			continue
		}
		if !seen[r.Pair] {
			seen[r.Pair] = true
			pairs = append(pairs, r.Pair)
		}
	}
	return pairs
}

// evaluateAndOrder implements phases 3 and 4 for one rule: evaluate the
// threshold condition, and if crossed, run the order-creation pre-flight
// checks and submission. Returns true if st was mutated.
func (e *Engine) evaluateAndOrder(ctx context.Context, r types.Rule, st *types.RuleState) bool {
	current, _, err := e.prices.GetPrice(ctx, r.Pair)
	if err != nil {
		e.logger.Warn("cannot retrieve price", "rule_id", r.ID, "pair", r.Pair, "error", err)
		return false
	}

	if !crossed(r, current) {
		return false
	}

	return e.attemptOrder(ctx, r, st, current)
}

// ruleWellFormed re-checks every field the order path depends on,
// independently of the reload-phase validator.
func ruleWellFormed(r types.Rule) error {
	switch {
	case r.ID == "":
		return errors.New("id is empty")
	case r.Pair == "":
		return errors.New("pair is empty")
	case !r.ThresholdPrice.IsPositive():
		return errors.New("threshold_price is not a positive number")
	case !r.Volume.IsPositive():
		return errors.New("volume is not a positive number")
	case !r.TrailingOffsetPercent.IsPositive():
		return errors.New("trailing_offset_percent is not a positive number")
	}
	if r.ThresholdType != types.Above && r.ThresholdType != types.Below {
		return fmt.Errorf("threshold_type %q is invalid", r.ThresholdType)
	}
	if r.Direction != types.Buy && r.Direction != types.Sell {
		return fmt.Errorf("direction %q is invalid", r.Direction)
	}
	return nil
}

func crossed(r types.Rule, current decimal.Decimal) bool {
	switch r.ThresholdType {
	case types.Above:
		return current.GreaterThanOrEqual(r.ThresholdPrice)
	case types.Below:
		return current.LessThanOrEqual(r.ThresholdPrice)
	default:
		return false
	}
}

// attemptOrder runs the order-creation checklist: credentials, balance,
// submission, state update. Every check must pass before an order goes
// out. st is mutated in place and the function reports whether anything
// changed.
func (e *Engine) attemptOrder(ctx context.Context, r types.Rule, st *types.RuleState, current decimal.Decimal) bool {
	if err := ruleWellFormed(r); err != nil {
		e.logger.Error("rule failed pre-order field check, skipping", "rule_id", r.ID, "error", err)
		return false
	}

	account := r.AccountOrDefault()

	if !e.exch.HasReadWrite(account) {
		e.logger.Error("no read-write credential for account, skipping order", "rule_id", r.ID, "account", account)
		return false
	}

	balances, err := e.exch.Balance(ctx, account)
	if err != nil {
		e.setError(ctx, r, st, "balance query failed: "+err.Error(), types.EventAPIError)
		return true
	}

	var asset string
	var required decimal.Decimal
	switch r.Direction {
	case types.Sell:
		asset = exchange.BaseAsset(r.Pair)
		required = r.Volume
	case types.Buy:
		asset = exchange.QuoteAsset(r.Pair)
		required = r.Volume.Mul(current)
	default:
		e.logger.Error("rule has no valid direction", "rule_id", r.ID)
		return false
	}

	have := exchange.AggregateBalance(balances, asset)
	if have.LessThan(required) {
		msg := fmt.Sprintf("insufficient balance: have %s %s, need %s", have, asset, required)
		st.ID = r.ID
		st.LastError = msg
		st.LastChecked = time.Now().UTC()
		e.logger.Warn("insufficient balance", "rule_id", r.ID, "asset", asset, "have", have, "need", required)
		e.queue.Enqueue(ctx, types.EventInsufficientBalance, fmt.Sprintf("rule %s: %s", r.ID, msg))
		e.appendLog(r.ID, "warn", "insufficient balance for order", fmt.Sprintf("have=%s need=%s asset=%s", have, required, asset))
		return true
	}

	txid, err := e.exch.AddTrailingStop(ctx, account, types.TrailingStopParams{
		Pair:      r.Pair,
		Direction: r.Direction,
		Volume:    r.Volume,
		OffsetPct: r.TrailingOffsetPercent,
		Trigger:   types.TriggerIndex,
	})
	if err != nil {
		e.classifyAndNotifyOrderFailure(ctx, r, st, err)
		return true
	}

	now := time.Now().UTC()
	st.ID = r.ID
	st.Triggered = true
	st.TriggerPrice = current
	st.TriggerTime = now
	st.OrderID = txid
	st.Offset = r.TrailingOffsetPercent
	st.ActivatedOn = now
	st.LastChecked = now
	st.LastError = ""
	st.ErrorNotified = false

	if err := e.tracker.RecordTrigger(r.ID, r.Pair, r.Direction, r.Volume, current, now); err != nil {
		e.logger.Error("failed to record trigger in trade log", "rule_id", r.ID, "error", err)
	}

	e.queue.Enqueue(ctx, types.EventTriggerReached, fmt.Sprintf("rule %s triggered at %s", r.ID, current))
	e.queue.Enqueue(ctx, types.EventTSLCreated, fmt.Sprintf("rule %s: trailing stop %s created", r.ID, txid))
	e.appendLog(r.ID, "info", "trailing stop submitted", "order_id="+txid)

	return true
}

// classifyAndNotifyOrderFailure splits submission failures into two
// notification streams: transient kinds (timeout, connection, rate
// limit, 5xx) notify as api_error and retry next tick; everything else
// is an exchange-level rejection notified as order_failed for human
// inspection. The rule stays un-triggered either way.
func (e *Engine) classifyAndNotifyOrderFailure(ctx context.Context, r types.Rule, st *types.RuleState, err error) {
	var exErr *exchange.Error
	kind := types.ErrOther
	if errors.As(err, &exErr) {
		kind = exErr.Kind
	}

	event := types.EventAPIError
	if kind == types.ErrOther {
		event = types.EventOrderFailed
	}

	e.setError(ctx, r, st, err.Error(), event)
	e.logger.Error("order submission failed", "rule_id", r.ID, "kind", kind, "error", err)
	e.appendLog(r.ID, "error", "order submission failed", string(kind)+": "+err.Error())
}

// setError records a non-fatal per-rule failure: last_error is always
// updated, but the notification is only re-sent when the message changes,
// to avoid re-announcing the same persistent failure every tick.
func (e *Engine) setError(ctx context.Context, r types.Rule, st *types.RuleState, msg string, kind types.EventKind) {
	st.ID = r.ID
	alreadyNotified := st.LastError == msg && st.ErrorNotified
	st.LastError = msg
	st.LastChecked = time.Now().UTC()
	if !alreadyNotified {
		e.queue.Enqueue(ctx, kind, fmt.Sprintf("rule %s: %s", r.ID, msg))
		st.ErrorNotified = true
	}
}

func (e *Engine) logAndNotify(ctx context.Context, level, ruleID, message string, kind types.EventKind) {
	e.appendLog(ruleID, level, message, "")
	e.queue.Enqueue(ctx, kind, fmt.Sprintf("rule %s: %s", ruleID, message))
}

func (e *Engine) appendLog(ruleID, level, message, details string) {
	if !e.coordinator.WritesAllowed() {
		return
	}
	if err := e.logStore.Append(types.LogEntry{
		Level:     level,
		Component: "engine",
		ConfigID:  ruleID,
		Message:   message,
		Details:   details,
	}); err != nil {
		e.logger.Error("failed to append log entry", "error", err)
	}
}

// pollFills issues a single batched QueryOrders call per account,
// covering every armed rule. Returns the ids of rules newly observed as
// closed this tick (chain-activation candidates) and whether any rule's
// state changed.
func (e *Engine) pollFills(ctx context.Context, rules []types.Rule, states map[string]types.RuleState, skip map[string]bool) ([]string, bool) {
	type armedRule struct {
		rule  types.Rule
		state types.RuleState
	}
	byAccount := make(map[string][]armedRule)

	for _, r := range rules {
		if skip[r.ID] {
			continue
		}
		st, ok := states[r.ID]
		if !ok || !st.IsArmed() {
			continue
		}
		account := r.AccountOrDefault()
		byAccount[account] = append(byAccount[account], armedRule{rule: r, state: st})
	}

	var filled []string
	changed := false
	for account, armed := range byAccount {
		ids := make([]string, len(armed))
		for i, a := range armed {
			ids[i] = a.state.OrderID
		}

		summaries, err := e.exch.QueryOrders(ctx, account, ids)
		if err != nil {
			e.logger.Error("query orders failed", "account", account, "error", err)
			continue
		}

		for _, a := range armed {
			summary, ok := summaries[a.state.OrderID]
			if !ok {
				summary = types.OrderSummary{OrderID: a.state.OrderID, Status: types.OrderUnknown}
			}
			st := a.state
			if e.applyOrderSummary(ctx, a.rule, &st, summary) {
				states[a.rule.ID] = st
				changed = true
				if summary.Status == types.OrderClosed {
					filled = append(filled, a.rule.ID)
				}
			}
		}
	}
	return filled, changed
}

// applyOrderSummary updates st from a single QueryOrders result.
// Returns true if st changed.
func (e *Engine) applyOrderSummary(ctx context.Context, r types.Rule, st *types.RuleState, summary types.OrderSummary) bool {
	st.LastChecked = time.Now().UTC()

	switch summary.Status {
	case types.OrderOpen:
		delete(e.missingPolls, r.ID)
		return false

	case types.OrderClosed:
		delete(e.missingPolls, r.ID)
		st.FillNotified = true
		e.queue.Enqueue(ctx, types.EventTSLFilled, fmt.Sprintf("rule %s: trailing stop %s filled at %s", r.ID, st.OrderID, summary.FillPrice))
		if err := e.tracker.RecordFill(profit.TradeIDFor(r.ID, st.TriggerTime), summary.FillPrice, time.Now().UTC(), false); err != nil {
			e.logger.Error("failed to record fill in trade log", "rule_id", r.ID, "error", err)
		}
		e.appendLog(r.ID, "info", "trailing stop filled", fmt.Sprintf("fill_price=%s", summary.FillPrice))
		return true

	case types.OrderCanceled, types.OrderExpired:
		delete(e.missingPolls, r.ID)
		st.FillNotified = true
		if err := e.tracker.RecordFill(profit.TradeIDFor(r.ID, st.TriggerTime), summary.FillPrice, time.Now().UTC(), true); err != nil {
			e.logger.Error("failed to record terminal order in trade log", "rule_id", r.ID, "error", err)
		}
		e.appendLog(r.ID, "info", "order reached terminal state without fill", string(summary.Status))
		return true

	default: // OrderUnknown
		e.missingPolls[r.ID]++
		if e.missingPolls[r.ID] >= maxMissingPolls {
			delete(e.missingPolls, r.ID)
			st.FillNotified = true
			st.LastError = "order lost: unqueryable for " + fmt.Sprint(maxMissingPolls) + " consecutive ticks"
			e.logger.Warn("order unqueryable for N consecutive ticks, treating as lost", "rule_id", r.ID, "order_id", st.OrderID, "n", maxMissingPolls)
			e.appendLog(r.ID, "warn", "order reconciliation gave up after repeated absence", fmt.Sprintf("order_id=%s", st.OrderID))
		} else {
			e.logger.Warn("order not found, will retry", "rule_id", r.ID, "order_id", st.OrderID, "missing_polls", e.missingPolls[r.ID])
		}
		return true
	}
}

// activateSuccessor rewrites the successor's config row to enabled=true,
// provided it isn't already enabled and has no prior trigger in state.
func (e *Engine) activateSuccessor(ctx context.Context, completed types.Rule, ruleByID map[string]types.Rule, states map[string]types.RuleState, writesAllowed bool) {
	successor, ok := ruleByID[completed.LinkedOrderID]
	if !ok {
		return
	}
	if successor.EnabledState == types.EnabledTrue {
		return
	}
	if st, ok := states[successor.ID]; ok && st.Triggered {
		return
	}
	if !writesAllowed {
		e.logger.Info("chain activation deferred by editor coordination", "rule_id", successor.ID)
		return
	}

	if err := e.configStore.SetEnabled(successor.ID, types.EnabledTrue); err != nil {
		e.logger.Error("chain activation failed", "rule_id", successor.ID, "error", err)
		return
	}
	e.queue.Enqueue(ctx, types.EventLinkedOrderActivated, fmt.Sprintf("rule %s activated by completion of %s", successor.ID, completed.ID))
	e.appendLog(successor.ID, "info", "linked order activated", "activated_by="+completed.ID)
}
