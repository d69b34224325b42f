// Package notify implements outbound event notifications: a Telegram
// bot-API messenger with event-kind routing and a disk-backed outage
// buffer. Routing configuration is parsed with viper in INI mode so the
// daemon reuses its one configuration library instead of adding a
// dedicated INI parser for this one file.
package notify

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/raymondclowe/ttslo/pkg/types"
)

// RoutingConfig is the parsed notifications INI file: a [recipients]
// section mapping usernames to chat destination ids, and a
// [notify.<event_kind>] section per event kind listing subscribed users.
type RoutingConfig struct {
	Recipients map[string]string            // username -> destination chat id
	Routes     map[types.EventKind][]string // event kind -> usernames
}

// LoadRoutingConfig parses the INI file at path.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read notification routing config: %w", err)
	}

	rc := &RoutingConfig{
		Recipients: make(map[string]string),
		Routes:     make(map[types.EventKind][]string),
	}

	recipients := v.GetStringMapString("recipients")
	for user, dest := range recipients {
		rc.Recipients[user] = dest
	}

	for _, key := range v.AllKeys() {
		const prefix = "notify."
		idx := strings.Index(key, prefix)
		if idx < 0 {
			continue
		}
		rest := key[idx+len(prefix):]
		dotIdx := strings.LastIndex(rest, ".")
		if dotIdx < 0 || rest[dotIdx+1:] != "users" {
			continue
		}
		eventKind := types.EventKind(rest[:dotIdx])

		raw := v.GetString(key)
		for _, user := range strings.Split(raw, ",") {
			user = strings.TrimSpace(user)
			if user != "" {
				rc.Routes[eventKind] = append(rc.Routes[eventKind], user)
			}
		}
	}

	return rc, nil
}

// DestinationsFor returns the configured destination ids for eventKind. A
// username present in a route but absent from [recipients] is silently
// skipped.
func (rc *RoutingConfig) DestinationsFor(eventKind types.EventKind) []string {
	var dests []string
	for _, user := range rc.Routes[eventKind] {
		if dest, ok := rc.Recipients[user]; ok {
			dests = append(dests, dest)
		}
	}
	return dests
}

// AllDestinations returns every configured recipient's destination id,
// used for the "notifications restored" broadcast.
func (rc *RoutingConfig) AllDestinations() []string {
	dests := make([]string, 0, len(rc.Recipients))
	for _, dest := range rc.Recipients {
		dests = append(dests, dest)
	}
	return dests
}
