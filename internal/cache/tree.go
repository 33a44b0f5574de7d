package cache

import (
	"context"
	"time"

	"ledgercache/internal/core"
)

// ChildLister resolves the direct children of an account.
type ChildLister interface {
	Children(ctx context.Context, id core.AccountID) ([]core.AccountID, error)
}

// Tree memoises account children lookups. Errors are not cached.
type Tree struct {
	next  ChildLister
	cache *LRUCache[core.AccountID, []core.AccountID]
}

func NewTree(next ChildLister, maxSize int, ttl time.Duration) *Tree {
	return &Tree{
		next:  next,
		cache: NewLRUCache[core.AccountID, []core.AccountID](maxSize, ttl),
	}
}

func (t *Tree) Children(ctx context.Context, id core.AccountID) ([]core.AccountID, error) {
	if children, ok := t.cache.Get(id); ok {
		return children, nil
	}
	children, err := t.next.Children(ctx, id)
	if err != nil {
		return nil, err
	}
	t.cache.Set(id, children)
	return children, nil
}

// Invalidate forgets every memoised lookup, e.g. after the hierarchy changed.
func (t *Tree) Invalidate() {
	t.cache.Purge()
}

// CleanExpired lets a Manager evict expired lookups.
func (t *Tree) CleanExpired() int {
	return t.cache.CleanExpired()
}
