package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestRegisterFlagsKeepsDefaults(t *testing.T) {
	t.Parallel()
	s := DefaultSettings()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags, &s)

	if err := flags.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.ConfigPath != "ttslo_rules.csv" {
		t.Errorf("ConfigPath = %q", s.ConfigPath)
	}
	if s.Interval() != 60*time.Second {
		t.Errorf("Interval = %v, want 60s", s.Interval())
	}
}

func TestRegisterFlagsParsesOverrides(t *testing.T) {
	t.Parallel()
	s := DefaultSettings()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags, &s)

	args := []string{
		"--config", "other.csv",
		"--interval", "30",
		"--dry-run",
		"--once",
	}
	if err := flags.Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.ConfigPath != "other.csv" {
		t.Errorf("ConfigPath = %q", s.ConfigPath)
	}
	if s.Interval() != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", s.Interval())
	}
	if !s.DryRun || !s.Once {
		t.Errorf("boolean flags not applied: %+v", s)
	}
}
