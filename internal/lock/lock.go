// Package lock serializes work on item URLs across concurrent address runs.
// Keys are always acquired in sorted order so that two runs locking
// overlapping URL sets cannot deadlock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/metrics"
)

// normalize returns the sorted, de-duplicated key set.
func normalize(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

// timeoutErr maps context expiry to catalog.ErrLockTimeout.
func timeoutErr(ctx context.Context, key string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("lock %s: %w", key, catalog.ErrLockTimeout)
	}
	return fmt.Errorf("lock %s: %w", key, ctx.Err())
}

func observeWait(start time.Time) {
	metrics.ObserveLockWait(time.Since(start))
}
