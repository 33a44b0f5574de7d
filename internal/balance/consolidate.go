package balance

import (
	"context"
	"fmt"

	"ledgercache/internal/core"
)

// Consolidator expands accounts to their transitive descendants.
type Consolidator struct {
	tree AccountTree
}

func NewConsolidator(tree AccountTree) *Consolidator {
	return &Consolidator{tree: tree}
}

// Descendants returns every account reachable from root through hierarchy
// or consolidation links, root excluded. Cycles are tolerated.
func (c *Consolidator) Descendants(ctx context.Context, root core.AccountID) ([]core.AccountID, error) {
	visited := map[core.AccountID]struct{}{root: {}}
	queue := []core.AccountID{root}
	var out []core.AccountID

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		children, err := c.tree.Children(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("children of account %d: %w", id, err)
		}
		for _, child := range children {
			if _, ok := visited[child]; ok {
				continue
			}
			visited[child] = struct{}{}
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}

// Expand returns the working set (requested accounts plus all their
// descendants) and the descendants of each requested account.
func (c *Consolidator) Expand(ctx context.Context, accounts []core.AccountID) ([]core.AccountID, map[core.AccountID][]core.AccountID, error) {
	var (
		working = make([]core.AccountID, 0, len(accounts))
		inSet   = make(map[core.AccountID]struct{}, len(accounts))
		tree    = make(map[core.AccountID][]core.AccountID, len(accounts))
	)
	add := func(id core.AccountID) {
		if _, ok := inSet[id]; !ok {
			inSet[id] = struct{}{}
			working = append(working, id)
		}
	}

	for _, acc := range accounts {
		add(acc)
		if _, done := tree[acc]; done {
			continue
		}
		desc, err := c.Descendants(ctx, acc)
		if err != nil {
			return nil, nil, err
		}
		tree[acc] = desc
		for _, d := range desc {
			add(d)
		}
	}
	return working, tree, nil
}
