package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/raymondclowe/ttslo/internal/exchange"
)

// Lookup resolves an environment variable by name. A func type rather
// than a hard os.Getenv call so tests can substitute a map.
type Lookup func(string) string

// OSLookup is the Lookup backed by the real process environment.
func OSLookup(key string) string { return os.Getenv(key) }

// winnieSuffix is the one named secondary-account suffix. The daemon
// recognizes two credential slots: the unsuffixed "primary" slot and
// this secondary one. Any rule whose account column is neither "primary"
// nor empty resolves against the WINNIE-suffixed variables.
const winnieSuffix = "_WINNIE"

func suffixFor(account string) string {
	if account == "" || account == "primary" {
		return ""
	}
	return winnieSuffix
}

// roCandidates returns the read-only key/secret env-var name pairs for
// suffix, in precedence order: KRAKEN_API_KEY first, then
// COPILOT_*/copilot_* prefixed variants, then the two COPILOT_W_KR_*
// fallback pairs.
func roCandidates(suffix string) [][2]string {
	return [][2]string{
		{"KRAKEN_API_KEY" + suffix, "KRAKEN_API_SECRET" + suffix},
		{"COPILOT_KRAKEN_API_KEY" + suffix, "COPILOT_KRAKEN_API_SECRET" + suffix},
		{"copilot_kraken_api_key" + strings.ToLower(suffix), "copilot_kraken_api_secret" + strings.ToLower(suffix)},
		{"COPILOT_W_KR_RO_PUBLIC" + suffix, "COPILOT_W_KR_RO_SECRET" + suffix},
		{"COPILOT_W_KR_PUBLIC" + suffix, "COPILOT_W_KR_SECRET" + suffix},
	}
}

// rwCandidates is the read-write counterpart. Appending suffix to the
// already "_RW"-qualified name is what produces the "_RW_WINNIE" form
// for the secondary account; there is no separate rule beyond "append
// the same suffix used for read-only".
func rwCandidates(suffix string) [][2]string {
	return [][2]string{
		{"KRAKEN_API_KEY_RW" + suffix, "KRAKEN_API_SECRET_RW" + suffix},
		{"COPILOT_KRAKEN_API_KEY_RW" + suffix, "COPILOT_KRAKEN_API_SECRET_RW" + suffix},
		{"copilot_kraken_api_key_rw" + strings.ToLower(suffix), "copilot_kraken_api_secret_rw" + strings.ToLower(suffix)},
		{"COPILOT_W_KR_RW_PUBLIC" + suffix, "COPILOT_W_KR_RW_SECRET" + suffix},
		{"COPILOT_W_KR_PUBLIC" + suffix, "COPILOT_W_KR_SECRET" + suffix},
	}
}

func firstAvailable(lookup Lookup, candidates [][2]string) (exchange.Credentials, bool) {
	for _, pair := range candidates {
		key := lookup(pair[0])
		secret := lookup(pair[1])
		if key != "" && secret != "" {
			return exchange.Credentials{APIKey: key, APISecret: secret}, true
		}
	}
	return exchange.Credentials{}, false
}

// ResolveAccount resolves the read-only and read-write credential pair
// for one logical account name (the Rule.account column, or "primary"
// for the default). Read-only absence is fatal; read-write absence only
// degrades the account to monitoring-only and is reported to the caller
// via the bool return so it can be logged as a warning rather than an
// error.
func ResolveAccount(lookup Lookup, account string) (ro exchange.Credentials, rw exchange.Credentials, hasRW bool, err error) {
	suffix := suffixFor(account)

	ro, ok := firstAvailable(lookup, roCandidates(suffix))
	if !ok {
		return exchange.Credentials{}, exchange.Credentials{}, false, fmt.Errorf(
			"no read-only Kraken credentials found for account %q", accountOrPrimary(account))
	}

	rw, hasRW = firstAvailable(lookup, rwCandidates(suffix))
	return ro, rw, hasRW, nil
}

func accountOrPrimary(account string) string {
	if account == "" {
		return "primary"
	}
	return account
}

// BuildAccounts resolves credentials for every distinct account name
// referenced by the loaded rules (always including "primary", since the
// sample config and any account-less rule default to it) and wraps them
// into exchange.AccountAuth values backed by the given nonce store.
// A missing read-only credential for any referenced account is fatal;
// a missing read-write credential only logs a warning.
func BuildAccounts(lookup Lookup, accountNames []string, nonceStore *exchange.NonceStore, logger *slog.Logger) (map[string]exchange.AccountAuth, error) {
	seen := map[string]bool{"primary": true}
	names := []string{"primary"}
	for _, n := range accountNames {
		name := accountOrPrimary(n)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	accounts := make(map[string]exchange.AccountAuth, len(names))
	for _, name := range names {
		ro, rw, hasRW, err := ResolveAccount(lookup, name)
		if err != nil {
			return nil, err
		}
		auth := exchange.AccountAuth{ReadOnly: exchange.NewAuth(ro, nonceStore)}
		if hasRW {
			auth.ReadWrite = exchange.NewAuth(rw, nonceStore)
		} else {
			logger.Warn("no read-write credentials for account, orders will be skipped", "account", name)
		}
		accounts[name] = auth
	}
	return accounts, nil
}

// ResolveTelegramToken reads TELEGRAM_BOT_TOKEN. An empty return means
// notifications have no transport configured; callers decide whether
// that is fatal.
func ResolveTelegramToken(lookup Lookup) string {
	return lookup("TELEGRAM_BOT_TOKEN")
}
