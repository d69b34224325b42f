// Package supervisor is the process lifecycle: resolve credentials,
// construct every subsystem, then either run the tick loop forever (with
// signal-driven graceful shutdown) or execute one of the one-shot CLI
// paths (--create-sample-config, --validate-config, --once).
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/raymondclowe/ttslo/internal/config"
	"github.com/raymondclowe/ttslo/internal/engine"
	"github.com/raymondclowe/ttslo/internal/exchange"
	"github.com/raymondclowe/ttslo/internal/notify"
	"github.com/raymondclowe/ttslo/internal/persistence"
	"github.com/raymondclowe/ttslo/internal/price"
	"github.com/raymondclowe/ttslo/internal/profit"
	"github.com/raymondclowe/ttslo/internal/validate"
	"github.com/raymondclowe/ttslo/pkg/types"
)

const (
	krakenRESTBaseURL = "https://api.kraken.com"
	krakenWSURL       = "wss://ws.kraken.com/v2"
	nonceFileName     = ".ttslo_nonce"
)

// Run is the single entry point cmd/ttslod calls after flag parsing. It
// dispatches to the one-shot paths first, then falls through to the
// normal daemon lifecycle. The returned int is the process exit code.
func Run(ctx context.Context, s config.Settings, logger *slog.Logger) int {
	if s.EnvFile != "" {
		if err := godotenv.Load(s.EnvFile); err != nil {
			logger.Error("failed to load env file", "path", s.EnvFile, "error", err)
			return 1
		}
	} else if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	if s.CreateSampleConfig {
		if err := persistence.WriteSample(s.ConfigPath); err != nil {
			logger.Error("failed to write sample config", "error", err)
			return 1
		}
		logger.Info("sample configuration written", "path", s.ConfigPath)
		return 0
	}

	if s.ValidateConfig {
		return runValidateOnly(ctx, s, logger)
	}

	sup, err := build(s, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer sup.queue.Drain(ctx)

	if s.Once {
		sup.engine.RunOnce(ctx)
		logger.Info("single tick complete")
		return 0
	}

	return sup.runForever(ctx)
}

// supervisor owns every subsystem handle: every collaborator sits in an
// unexported field and is torn down in runForever rather than leaked to
// the caller.
type supervisor struct {
	engine *engine.Engine
	prices *price.Provider
	feed   *exchange.TickerFeed
	queue  *notify.Queue
	logger *slog.Logger
}

func build(s config.Settings, logger *slog.Logger) (*supervisor, error) {
	rules, err := persistence.NewConfigStore(s.ConfigPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	accountNames := make([]string, 0, len(rules))
	for _, r := range rules {
		accountNames = append(accountNames, r.AccountOrDefault())
	}

	nonceStore := exchange.NewNonceStore(nonceFileName)
	accounts, err := config.BuildAccounts(config.OSLookup, accountNames, nonceStore, logger)
	if err != nil {
		return nil, fmt.Errorf("credential resolution: %w", err)
	}

	exchClient := exchange.NewClient(krakenRESTBaseURL, accounts, s.DryRun, logger)
	feed := exchange.NewTickerFeed(krakenWSURL, logger)
	priceProvider := price.NewProvider(exchClient, feed, logger)

	var routing *notify.RoutingConfig
	if _, err := os.Stat(s.NotifyConfigPath); err == nil {
		routing, err = notify.LoadRoutingConfig(s.NotifyConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load notification routing config: %w", err)
		}
	} else {
		routing = &notify.RoutingConfig{}
	}

	var sender notify.Sender
	if token := config.ResolveTelegramToken(config.OSLookup); token != "" {
		sender = notify.NewTelegramSender(token)
	} else {
		sender = noopSender{}
		logger.Warn("TELEGRAM_BOT_TOKEN not set, notifications will be logged only")
	}

	queuePath := s.ConfigPath + ".notify_queue.json"
	queue, err := notify.NewQueue(queuePath, routing, sender, logger)
	if err != nil {
		return nil, fmt.Errorf("load notification queue: %w", err)
	}

	tracker := profit.NewTracker(s.TradePath)

	eng, err := engine.New(engine.Config{
		ConfigPath: s.ConfigPath,
		StatePath:  s.StatePath,
		LogPath:    s.LogPath,
		Interval:   s.Interval(),
		DryRun:     s.DryRun,
	}, priceProvider, exchClient, queue, tracker, logger)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	return &supervisor{
		engine: eng,
		prices: priceProvider,
		feed:   feed,
		queue:  queue,
		logger: logger.With("component", "supervisor"),
	}, nil
}

// runForever starts the push-price feed and the tick loop, then blocks
// until SIGINT/SIGTERM. Graceful shutdown lets the in-flight tick
// finish, announces app_exit, and flushes the notification queue.
func (sup *supervisor) runForever(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go sup.prices.Run(ctx)
	go func() {
		if err := sup.feed.Run(ctx); err != nil && ctx.Err() == nil {
			sup.logger.Error("ticker feed stopped unexpectedly", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	tickDone := make(chan struct{})
	go func() {
		sup.engine.Run(ctx)
		close(tickDone)
	}()

	sig := <-sigCh
	sup.logger.Info("received shutdown signal, finishing in-flight tick", "signal", sig.String())
	cancel()
	<-tickDone

	sup.queue.Enqueue(context.Background(), types.EventAppExit, fmt.Sprintf("ttslod exiting on signal %s", sig))
	return 0
}

// noopSender discards notifications, used when no Telegram token is
// configured so the daemon can still run (events are still logged).
type noopSender struct{}

func (noopSender) Send(ctx context.Context, destination, body string) error { return nil }

// runValidateOnly implements --validate-config: static plus (if
// read-only credentials resolve) live validation, printed as a report.
// This path never mutates the config file; only the live daemon cycle
// auto-disables rows.
func runValidateOnly(ctx context.Context, s config.Settings, logger *slog.Logger) int {
	rules, err := persistence.NewConfigStore(s.ConfigPath).Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	report := validate.StaticValidate(rules)

	accountNames := make([]string, 0, len(rules))
	for _, r := range rules {
		accountNames = append(accountNames, r.AccountOrDefault())
	}
	nonceStore := exchange.NewNonceStore(nonceFileName)
	if accounts, err := config.BuildAccounts(config.OSLookup, accountNames, nonceStore, logger); err == nil {
		exchClient := exchange.NewClient(krakenRESTBaseURL, accounts, true, logger)
		feed := exchange.NewTickerFeed(krakenWSURL, logger)
		priceProvider := price.NewProvider(exchClient, feed, logger)
		report = validate.LiveValidate(ctx, rules, report, priceProvider)
	} else {
		logger.Warn("skipping live validation, no credentials resolved", "error", err)
	}

	for _, issue := range report.Issues {
		logger.Info("validation issue", "config_id", issue.RuleID, "severity", issue.Severity, "message", issue.Message)
	}

	if report.HasErrors() {
		logger.Error("validation failed", "configs_with_errors", len(report.ConfigsWithErrors))
		return 1
	}
	logger.Info("validation passed", "rules_checked", len(rules))
	return 0
}
