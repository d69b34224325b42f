// Package config defines the daemon's CLI surface: flags, the
// credential-resolution precedence table, and a thin viper overlay so
// every flag can also be set via a TTSLO_-prefixed environment variable.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings is the fully-resolved CLI surface.
type Settings struct {
	ConfigPath       string
	StatePath        string
	LogPath          string
	TradePath        string
	NotifyConfigPath string
	EnvFile          string

	// IntervalSeconds is the tick pacing; the flag takes plain seconds.
	IntervalSeconds int

	Once               bool
	DryRun             bool
	Verbose            bool
	CreateSampleConfig bool
	ValidateConfig     bool
}

// DefaultSettings returns the daemon's default file locations and the
// 60-second default tick interval.
func DefaultSettings() Settings {
	return Settings{
		ConfigPath:       "ttslo_rules.csv",
		StatePath:        "ttslo_state.csv",
		LogPath:          "ttslo_log.csv",
		TradePath:        "ttslo_trades.csv",
		NotifyConfigPath: "ttslo_notify.ini",
		IntervalSeconds:  60,
	}
}

// Interval returns the tick pacing as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// RegisterFlags binds flags into a pre-populated Settings. Call with the
// result of DefaultSettings so unset flags keep their defaults.
func RegisterFlags(flags *pflag.FlagSet, s *Settings) {
	flags.StringVar(&s.ConfigPath, "config", s.ConfigPath, "path to the rule configuration CSV")
	flags.StringVar(&s.StatePath, "state", s.StatePath, "path to the rule state CSV")
	flags.StringVar(&s.LogPath, "log", s.LogPath, "path to the append-only audit log CSV")
	flags.StringVar(&s.TradePath, "trades", s.TradePath, "path to the realized trade CSV")
	flags.StringVar(&s.NotifyConfigPath, "notify-config", s.NotifyConfigPath, "path to the notification routing INI file")
	flags.StringVar(&s.EnvFile, "env-file", s.EnvFile, "path to a .env file of credentials to load")
	flags.IntVar(&s.IntervalSeconds, "interval", s.IntervalSeconds, "tick interval in seconds")
	flags.BoolVar(&s.Once, "once", s.Once, "run a single tick then exit")
	flags.BoolVar(&s.DryRun, "dry-run", s.DryRun, "run all decision steps without submitting orders or writing state/config")
	flags.BoolVar(&s.Verbose, "verbose", s.Verbose, "enable debug-level logging")
	flags.BoolVar(&s.CreateSampleConfig, "create-sample-config", s.CreateSampleConfig, "write a template configuration file and exit")
	flags.BoolVar(&s.ValidateConfig, "validate-config", s.ValidateConfig, "validate the configuration file, print a report, and exit")
}

// BindEnv lets every flag above also be set via a TTSLO_-prefixed
// environment variable (e.g. TTSLO_INTERVAL=30), overlaying the parsed
// flag values. Flags explicitly passed on the command line still win,
// since viper only fills a key from BindPFlag when the flag itself was
// left at its default.
func BindEnv(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvPrefix("ttslo")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v.BindPFlags(flags)
}

// ApplyEnvOverlay copies any TTSLO_-prefixed overrides picked up by
// BindEnv back into s. Safe to call even if BindEnv saw no such vars.
func ApplyEnvOverlay(v *viper.Viper, s *Settings) {
	s.ConfigPath = v.GetString("config")
	s.StatePath = v.GetString("state")
	s.LogPath = v.GetString("log")
	s.TradePath = v.GetString("trades")
	s.NotifyConfigPath = v.GetString("notify-config")
	s.EnvFile = v.GetString("env-file")
	s.IntervalSeconds = v.GetInt("interval")
	s.Once = v.GetBool("once")
	s.DryRun = v.GetBool("dry-run")
	s.Verbose = v.GetBool("verbose")
	s.CreateSampleConfig = v.GetBool("create-sample-config")
	s.ValidateConfig = v.GetBool("validate-config")
}
