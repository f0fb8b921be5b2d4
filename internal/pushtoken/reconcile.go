// Package pushtoken maintains the per-user list of device push tokens.
//
// A user row carries at most one entry per device id. Entries whose
// last_updated is older than the TTL are dropped on every write and by the
// periodic sweep.
package pushtoken

import (
	"time"

	"github.com/storchat/api/internal/database"
)

// DefaultTTL is how long a token survives without being refreshed.
const DefaultTTL = 30 * 24 * time.Hour

// Entry is one device registration.
type Entry = database.PushToken

func expired(e Entry, now time.Time, ttl time.Duration) bool {
	return now.Sub(e.LastUpdated) > ttl
}

// Reconcile returns existing with any entry for incoming.DeviceID replaced by
// incoming (stamped with now) and with expired entries removed. Survivors
// keep their relative order and incoming is appended last.
func Reconcile(existing []Entry, incoming Entry, now time.Time, ttl time.Duration) []Entry {
	out := make([]Entry, 0, len(existing)+1)
	for _, e := range existing {
		if e.DeviceID == incoming.DeviceID {
			continue
		}
		if expired(e, now, ttl) {
			continue
		}
		out = append(out, e)
	}
	incoming.LastUpdated = now
	return append(out, incoming)
}

// Prune drops expired entries and reports how many were removed.
func Prune(entries []Entry, now time.Time, ttl time.Duration) ([]Entry, int) {
	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if expired(e, now, ttl) {
			continue
		}
		kept = append(kept, e)
	}
	return kept, len(entries) - len(kept)
}

// RemoveTokens drops entries whose push token is in tokens.
func RemoveTokens(entries []Entry, tokens []string) []Entry {
	if len(tokens) == 0 {
		return entries
	}
	drop := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		drop[t] = struct{}{}
	}
	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := drop[e.PushToken]; ok {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}
