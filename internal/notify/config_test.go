package notify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/raymondclowe/ttslo/pkg/types"
)

func writeRoutingFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify.ini")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRoutingConfigParsesRecipientsAndRoutes(t *testing.T) {
	t.Parallel()
	path := writeRoutingFile(t, `
[recipients]
alice = 111
bob = 222

[notify.tsl_filled]
users = alice, bob

[notify.api_error]
users = alice
`)

	rc, err := LoadRoutingConfig(path)
	if err != nil {
		t.Fatalf("LoadRoutingConfig: %v", err)
	}

	if rc.Recipients["alice"] != "111" || rc.Recipients["bob"] != "222" {
		t.Errorf("Recipients = %+v", rc.Recipients)
	}

	dests := rc.DestinationsFor(types.EventTSLFilled)
	if len(dests) != 2 {
		t.Errorf("DestinationsFor(tsl_filled) = %v, want 2 entries", dests)
	}

	dests = rc.DestinationsFor(types.EventAPIError)
	if len(dests) != 1 || dests[0] != "111" {
		t.Errorf("DestinationsFor(api_error) = %v, want [111]", dests)
	}
}

func TestDestinationsForUnroutedEventIsEmpty(t *testing.T) {
	t.Parallel()
	path := writeRoutingFile(t, "[recipients]\nalice = 111\n")

	rc, err := LoadRoutingConfig(path)
	if err != nil {
		t.Fatalf("LoadRoutingConfig: %v", err)
	}

	if dests := rc.DestinationsFor(types.EventConfigChanged); len(dests) != 0 {
		t.Errorf("expected no destinations for unrouted event, got %v", dests)
	}
}

func TestDestinationsForSkipsUnknownUser(t *testing.T) {
	t.Parallel()
	path := writeRoutingFile(t, `
[recipients]
alice = 111

[notify.tsl_filled]
users = alice, ghost
`)

	rc, err := LoadRoutingConfig(path)
	if err != nil {
		t.Fatalf("LoadRoutingConfig: %v", err)
	}

	dests := rc.DestinationsFor(types.EventTSLFilled)
	if len(dests) != 1 || dests[0] != "111" {
		t.Errorf("expected only alice's destination, ghost should be silently skipped, got %v", dests)
	}
}
