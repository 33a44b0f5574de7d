package balance

import (
	"context"
	"fmt"

	"ledgercache/internal/core"
)

// Invalidator purges cache rows that are no longer valid.
type Invalidator struct {
	cache CacheStore
	env   *env
}

// PurgeStale deletes every entry whose journal-period is not closed or was
// changed at or after the entry was written, and every entry of a special
// period. It is idempotent.
func (i *Invalidator) PurgeStale(ctx context.Context) (int64, error) {
	n, err := i.cache.DeleteStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge stale balances: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	i.env.metrics.RowsPurged(n)
	i.env.audit(ctx, i.cache, core.AuditPurgeStale, 0, n)
	i.env.notify(ctx, ChangePurged, 0, n)
	i.env.logger.InfoContext(ctx, "Stale balances purged", "rows", n)
	return n, nil
}
