// Package expiry decides which transfer records are still active.
package expiry

import (
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

// IsExpired reports whether t has self-destructed by now.
func IsExpired(t store.Transfer, now time.Time) bool {
	if t.IsExpired {
		return true
	}
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// Active drops expired transfers, keeping order.
func Active(transfers []store.Transfer, now time.Time) []store.Transfer {
	out := make([]store.Transfer, 0, len(transfers))
	for _, t := range transfers {
		if !IsExpired(t, now) {
			out = append(out, t)
		}
	}
	return out
}

// Mark returns transfers with IsExpired set from their expiry time.
func Mark(transfers []store.Transfer, now time.Time) []store.Transfer {
	out := make([]store.Transfer, len(transfers))
	for i, t := range transfers {
		t.IsExpired = IsExpired(t, now)
		out[i] = t
	}
	return out
}
