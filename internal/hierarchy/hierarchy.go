// Package hierarchy implements the read side of the chunked graph
// (spec.md §4.3): walking Parent/Child columns to resolve roots,
// batching lookups across a set of nodes, and descending a root's
// subtree with bounding-box pruning. It never mutates the store; the
// edit engine (package editengine) owns every write path.
package hierarchy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmodel"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
	"github.com/seung-lab/chunkedgraph-go/internal/store"
)

// childrenCacheTTL is long relative to any single request: ColChildren
// is written once at a node's creation and never rewritten, so a
// cached entry never goes stale.
const childrenCacheTTL = time.Hour

// childrenCacheSize is a rough per-entry cost estimate (bytes), not a
// precise accounting of the decoded slice's memory.
const childrenCacheSize = 256

// GetParent returns node's parent as of t, or ok=false if node has no
// parent recorded at t (it is a root, or a node that did not exist yet
// at t, or has since been tombstoned).
func GetParent(ctx context.Context, g *registry.Graph, node idcodec.NodeID, t time.Time) (idcodec.NodeID, bool, error) {
	row, err := g.Store.GetRow(ctx, store.NodeRowKey(node))
	if err != nil {
		return 0, false, chkerr.Wrap(chkerr.Internal, fmt.Sprintf("read row for node %d", node), err)
	}
	if row == nil {
		return 0, false, chkerr.Newf(chkerr.NotFound, "node %d does not exist", node)
	}
	cell, ok := row.Newest(graphmodel.ColParent, t)
	if !ok || len(cell.Value) == 0 {
		return 0, false, nil
	}
	parent, err := graphmodel.DecodeNodeID(cell.Value)
	if err != nil {
		return 0, false, chkerr.Wrap(chkerr.Internal, fmt.Sprintf("decode parent of node %d", node), err)
	}
	return parent, true, nil
}

// GetChildren returns node's children as of t. Results are served
// through g.Children when present: ColChildren is written once at a
// node's creation and never rewritten (spec §3), so a decoded entry
// is valid for the table's whole lifetime and needs no invalidation
// on a later edit — only eviction under memory pressure or TTL expiry.
func GetChildren(ctx context.Context, g *registry.Graph, node idcodec.NodeID, t time.Time) ([]idcodec.NodeID, error) {
	if g.Children == nil {
		return readChildren(ctx, g, node, t)
	}

	// Keyed by node alone, not node+t: every caller of GetChildren
	// reaches node by first resolving it as an ancestor or a subgraph
	// member as of t, which already implies node existed by t, so the
	// write-once value is the same for every t a real caller would pass.
	key := strconv.FormatUint(uint64(node), 10)
	var computeErr error
	value := g.Children.Get(key, func() (interface{}, time.Duration, int) {
		var children []idcodec.NodeID
		children, computeErr = readChildren(ctx, g, node, t)
		return children, childrenCacheTTL, childrenCacheSize
	})
	if computeErr != nil {
		return nil, computeErr
	}
	children, _ := value.([]idcodec.NodeID)
	return children, nil
}

func readChildren(ctx context.Context, g *registry.Graph, node idcodec.NodeID, t time.Time) ([]idcodec.NodeID, error) {
	row, err := g.Store.GetRow(ctx, store.NodeRowKey(node))
	if err != nil {
		return nil, chkerr.Wrap(chkerr.Internal, fmt.Sprintf("read row for node %d", node), err)
	}
	if row == nil {
		return nil, chkerr.Newf(chkerr.NotFound, "node %d does not exist", node)
	}
	cell, ok := row.Newest(graphmodel.ColChildren, t)
	if !ok {
		return nil, nil
	}
	children, err := graphmodel.DecodeNodeIDs(cell.Value)
	if err != nil {
		return nil, chkerr.Wrap(chkerr.Internal, fmt.Sprintf("decode children of node %d", node), err)
	}
	return children, nil
}

func effectiveStop(g *registry.Graph, stopLayer int) int {
	if stopLayer <= 0 || stopLayer > g.Meta.NumLayers {
		return g.Meta.NumLayers
	}
	return stopLayer
}

// GetRoot walks node's Parent chain upward as of t, stopping at
// stopLayer (0 means the root layer L).
func GetRoot(ctx context.Context, g *registry.Graph, node idcodec.NodeID, t time.Time, stopLayer int) (idcodec.NodeID, error) {
	stop := effectiveStop(g, stopLayer)
	cur := node
	for {
		if g.Codec.Layer(cur) >= stop {
			return cur, nil
		}
		parent, ok, err := GetParent(ctx, g, cur, t)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, chkerr.Newf(chkerr.NotFound, "node %d has no recorded parent before reaching layer %d at t=%s", cur, stop, t)
		}
		cur = parent
	}
}

// GetRoots resolves roots (or stopLayer ancestors) for a batch of
// nodes, issuing one store round trip per hierarchy level across the
// whole batch instead of one per node, and deduplicating nodes that
// multiple inputs converge on within a level.
func GetRoots(ctx context.Context, g *registry.Graph, nodes []idcodec.NodeID, t time.Time, stopLayer int, assertRoots bool) ([]idcodec.NodeID, error) {
	stop := effectiveStop(g, stopLayer)

	cur := make([]idcodec.NodeID, len(nodes))
	copy(cur, nodes)
	done := make([]bool, len(nodes))
	for i, n := range cur {
		if g.Codec.Layer(n) >= stop {
			done[i] = true
		}
	}

	for {
		need := make(map[idcodec.NodeID]struct{})
		for i, n := range cur {
			if !done[i] {
				need[n] = struct{}{}
			}
		}
		if len(need) == 0 {
			break
		}

		keys := make([][]byte, 0, len(need))
		for id := range need {
			keys = append(keys, store.NodeRowKey(id))
		}
		ch, err := g.Store.ReadRows(ctx, keys, []string{graphmodel.ColParent}, store.TimeRange{To: t})
		if err != nil {
			return nil, chkerr.Wrap(chkerr.Internal, "batch read parents", err)
		}

		parents := make(map[idcodec.NodeID]idcodec.NodeID, len(need))
		for r := range ch {
			if r.Err != nil {
				return nil, chkerr.Wrap(chkerr.Internal, "batch read parents", r.Err)
			}
			id := store.DecodeNodeRowKey(r.Key)
			cell, ok := r.Row.Newest(graphmodel.ColParent, t)
			if !ok || len(cell.Value) == 0 {
				continue
			}
			parent, err := graphmodel.DecodeNodeID(cell.Value)
			if err != nil {
				return nil, chkerr.Wrap(chkerr.Internal, fmt.Sprintf("decode parent of node %d", id), err)
			}
			parents[id] = parent
		}

		for i, n := range cur {
			if done[i] {
				continue
			}
			parent, ok := parents[n]
			if !ok {
				return nil, chkerr.Newf(chkerr.NotFound, "node %d has no recorded parent before reaching layer %d at t=%s", n, stop, t)
			}
			cur[i] = parent
			if g.Codec.Layer(parent) >= stop {
				done[i] = true
			}
		}
	}

	if assertRoots && stop == g.Meta.NumLayers {
		for _, r := range cur {
			latest, err := IsLatestRoot(ctx, g, r, t)
			if err != nil {
				return nil, err
			}
			if !latest {
				return nil, chkerr.Newf(chkerr.Precondition, "node %d is not the latest root at t=%s", r, t)
			}
		}
	}

	return cur, nil
}

// getNodeRow reads node's row, returning (nil, nil) if it doesn't
// exist rather than a NotFound error; used by callers (like atomic
// edge lookup) for which a missing row is a legitimate empty result.
func getNodeRow(ctx context.Context, g *registry.Graph, node idcodec.NodeID) (store.Row, error) {
	row, err := g.Store.GetRow(ctx, store.NodeRowKey(node))
	if err != nil {
		return nil, chkerr.Wrap(chkerr.Internal, fmt.Sprintf("read row for node %d", node), err)
	}
	return row, nil
}

// GetLineageLinks reads the Former*/New* lineage pointers stored on
// root's own row (spec §4.7's lineage(), generalized over
// GetFormerIDs/GetNewIDs: roots track lineage; non-root nodes never
// carry these columns, matching cc.go's root-only bookkeeping).
// newIDs is nil if root hasn't been superseded as of t. formerAt/newAt
// are each cell's write timestamp (zero if the column is absent), so
// callers can bound traversal to a [t_past, t_future] window.
func GetLineageLinks(ctx context.Context, g *registry.Graph, root idcodec.NodeID, t time.Time) (formerIDs, newIDs []idcodec.NodeID, formerAt, newAt time.Time, err error) {
	row, err := getNodeRow(ctx, g, root)
	if err != nil {
		return nil, nil, time.Time{}, time.Time{}, err
	}
	if row == nil {
		return nil, nil, time.Time{}, time.Time{}, nil
	}
	if cell, ok := row.Newest(graphmodel.ColFormerIDs, t); ok {
		if formerIDs, err = graphmodel.DecodeNodeIDs(cell.Value); err != nil {
			return nil, nil, time.Time{}, time.Time{}, chkerr.Wrap(chkerr.Internal, "decode former_ids", err)
		}
		formerAt = cell.Timestamp
	}
	if cell, ok := row.Newest(graphmodel.ColNewIDs, t); ok {
		if newIDs, err = graphmodel.DecodeNodeIDs(cell.Value); err != nil {
			return nil, nil, time.Time{}, time.Time{}, chkerr.Wrap(chkerr.Internal, "decode new_ids", err)
		}
		newAt = cell.Timestamp
	}
	return formerIDs, newIDs, formerAt, newAt, nil
}

// IsLatestRoot reports whether root is still the current root at t:
// no later edit has superseded it (spec §8 P6).
func IsLatestRoot(ctx context.Context, g *registry.Graph, root idcodec.NodeID, t time.Time) (bool, error) {
	row, err := g.Store.GetRow(ctx, store.NodeRowKey(root))
	if err != nil {
		return false, chkerr.Wrap(chkerr.Internal, fmt.Sprintf("read row for root %d", root), err)
	}
	if row == nil {
		return false, chkerr.Newf(chkerr.NotFound, "root %d does not exist", root)
	}
	cell, ok := row.Newest(graphmodel.ColRootSuperseded, t)
	if !ok || len(cell.Value) == 0 {
		return true, nil
	}
	return false, nil
}
