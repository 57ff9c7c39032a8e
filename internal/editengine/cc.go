package editengine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmodel"
	"github.com/seung-lab/chunkedgraph-go/internal/hierarchy"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
	"github.com/seung-lab/chunkedgraph-go/internal/store"
)

// ccResult is the outcome of recomputeCC: the mutations every touched
// row needs, plus the bookkeeping commonApply needs to build the log
// record and the bus notification.
type ccResult struct {
	newRoots    []idcodec.NodeID
	formerRoots []idcodec.NodeID
	newLvl2     []idcodec.NodeID
	mutations   []*store.Mutation
}

// unionFind is a standard disjoint-set structure over node IDs, used
// to recompute connected components once an edit's added/removed
// edges are folded into an affected root's full atomic-edge set.
type unionFind struct {
	parent map[idcodec.NodeID]idcodec.NodeID
}

func newUnionFind(nodes []idcodec.NodeID) *unionFind {
	uf := &unionFind{parent: make(map[idcodec.NodeID]idcodec.NodeID, len(nodes))}
	for _, n := range nodes {
		uf.parent[n] = n
	}
	return uf
}

func (u *unionFind) find(x idcodec.NodeID) idcodec.NodeID {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b idcodec.NodeID) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

// recomputeCC implements spec §4.6: given the roots an edit's
// supervoxel endpoints resolved to, the edges it adds (merge) and/or
// removes (split, multicut), derive the edit's full supervoxel-level
// connected components and rebuild every hierarchy layer above them
// bottom-up.
//
// Every node under an affected root is regrouped from one consistent
// snapshot taken at tau rather than only the chunks the edit's
// endpoints sit in: a genuinely minimal "only touched chunks" rewrite
// needs per-layer cross-edge storage this graph doesn't keep (atomic
// edges live solely on supervoxel rows, matched by package hierarchy's
// GetAtomicEdges), so a full recompute of the affected subtree is the
// pragmatic substitute. Layer-2 node identity is preserved across the
// recompute whenever a chunk's exact supervoxel membership is
// unchanged; layers above that always mint fresh IDs when their
// component changed at all, since lineage above layer 2 is tracked at
// the root, not at every intermediate layer.
func recomputeCC(ctx context.Context, g *registry.Graph, tau time.Time, oldRoots []idcodec.NodeID, added, removed []graphmodel.AtomicEdge) (*ccResult, error) {
	rootSupervoxels := make(map[idcodec.NodeID][]idcodec.NodeID, len(oldRoots))
	perRootPerLayer := make(map[idcodec.NodeID]map[int][]idcodec.NodeID, len(oldRoots))
	oldL2Children := make(map[idcodec.NodeID][]idcodec.NodeID)
	svToOldRoot := make(map[idcodec.NodeID]idcodec.NodeID)
	edgeSet := make(map[graphmodel.AtomicEdge]graphmodel.AtomicEdge)

	for _, root := range oldRoots {
		nodes, err := hierarchy.GetSubgraphNodes(ctx, g, root, tau, nil, 1)
		if err != nil {
			return nil, err
		}
		sub, err := hierarchy.GetSubgraph(ctx, g, root, tau, nil)
		if err != nil {
			return nil, err
		}

		rootSupervoxels[root] = sub.Supervoxels
		perRootPerLayer[root] = nodes.PerLayer
		for l2, svs := range nodes.NodeToSupervoxels {
			oldL2Children[l2] = svs
		}
		for _, sv := range sub.Supervoxels {
			svToOldRoot[sv] = root
		}
		for _, e := range sub.Edges {
			edgeSet[e.Normalized()] = e
		}
	}

	for _, e := range added {
		edgeSet[e.Normalized()] = e
	}
	for _, e := range removed {
		delete(edgeSet, e.Normalized())
	}

	allSupervoxels := make(map[idcodec.NodeID]struct{})
	for root := range rootSupervoxels {
		for _, sv := range rootSupervoxels[root] {
			allSupervoxels[sv] = struct{}{}
		}
	}
	for _, e := range added {
		allSupervoxels[e.A] = struct{}{}
		allSupervoxels[e.B] = struct{}{}
	}

	svList := make([]idcodec.NodeID, 0, len(allSupervoxels))
	for sv := range allSupervoxels {
		svList = append(svList, sv)
	}
	sort.Slice(svList, func(i, j int) bool { return svList[i] < svList[j] })

	uf := newUnionFind(svList)
	for _, e := range edgeSet {
		uf.union(e.A, e.B)
	}

	componentIndex := make(map[idcodec.NodeID]int)
	var components [][]idcodec.NodeID
	for _, sv := range svList {
		r := uf.find(sv)
		idx, ok := componentIndex[r]
		if !ok {
			idx = len(components)
			componentIndex[r] = idx
			components = append(components, nil)
		}
		components[idx] = append(components[idx], sv)
	}

	reusedRoot := make(map[int]idcodec.NodeID, len(components))
	for _, root := range oldRoots {
		key := sortedSVKey(rootSupervoxels[root])
		for idx, comp := range components {
			if _, taken := reusedRoot[idx]; taken {
				continue
			}
			if sortedSVKey(comp) == key {
				reusedRoot[idx] = root
			}
		}
	}

	mutByKey := make(map[string]*store.Mutation)
	mutFor := func(rowKey []byte) *store.Mutation {
		k := string(rowKey)
		if m, ok := mutByKey[k]; ok {
			return m
		}
		m := &store.Mutation{RowKey: append([]byte(nil), rowKey...), Cells: make(map[string]store.CellMutation)}
		mutByKey[k] = m
		return m
	}

	result := &ccResult{}
	reusedOldL2 := make(map[idcodec.NodeID]struct{})
	newRootOwners := make(map[idcodec.NodeID][]idcodec.NodeID) // old root -> new roots it contributed to
	reusedRootSet := make(map[idcodec.NodeID]struct{}, len(reusedRoot))
	for _, root := range reusedRoot {
		reusedRootSet[root] = struct{}{}
	}

	for idx, comp := range components {
		if root, ok := reusedRoot[idx]; ok {
			result.newRoots = append(result.newRoots, root)
			continue
		}

		newRoot, newL2, err := rebuildComponent(ctx, g, tau, comp, oldL2Children, mutFor, reusedOldL2)
		if err != nil {
			return nil, err
		}
		result.newRoots = append(result.newRoots, newRoot)
		result.newLvl2 = append(result.newLvl2, newL2...)

		contributors := make(map[idcodec.NodeID]struct{})
		for _, sv := range comp {
			if root, ok := svToOldRoot[sv]; ok {
				contributors[root] = struct{}{}
			}
		}
		formerIDs := make([]idcodec.NodeID, 0, len(contributors))
		for root := range contributors {
			formerIDs = append(formerIDs, root)
			newRootOwners[root] = append(newRootOwners[root], newRoot)
		}
		sort.Slice(formerIDs, func(i, j int) bool { return formerIDs[i] < formerIDs[j] })
		mutFor(store.NodeRowKey(newRoot)).Set(graphmodel.ColFormerIDs, graphmodel.EncodeNodeIDs(formerIDs), tau)
	}

	for _, root := range oldRoots {
		if _, reused := reusedRootSet[root]; reused {
			continue
		}
		newIDs := newRootOwners[root]
		if newIDs == nil {
			// root contributed nothing (every one of its supervoxels left
			// via a merge into a different component's root), still
			// retired; its new_ids cell is written as an empty list.
			newIDs = []idcodec.NodeID{}
		}
		result.formerRoots = append(result.formerRoots, root)
		mutFor(store.NodeRowKey(root)).Set(graphmodel.ColNewIDs, graphmodel.EncodeNodeIDs(newIDs), tau)
		mutFor(store.NodeRowKey(root)).Set(graphmodel.ColRootSuperseded, []byte{1}, tau)

		for layer, ids := range perRootPerLayer[root] {
			if layer < 2 {
				continue
			}
			for _, id := range ids {
				if _, ok := reusedOldL2[id]; ok {
					continue
				}
				mutFor(store.NodeRowKey(id)).Set(graphmodel.ColParent, []byte{}, tau)
			}
		}
	}

	if err := updateCrossEdges(ctx, g, tau, added, removed, mutFor); err != nil {
		return nil, err
	}

	for _, m := range mutByKey {
		result.mutations = append(result.mutations, m)
	}
	return result, nil
}

// rebuildComponent mints/reuses every layer-2-and-above node for one
// connected component, bottom-up, and returns the resulting root plus
// any freshly touched layer-2 IDs (for the bus notification).
func rebuildComponent(
	ctx context.Context,
	g *registry.Graph,
	tau time.Time,
	supervoxels []idcodec.NodeID,
	oldL2Children map[idcodec.NodeID][]idcodec.NodeID,
	mutFor func([]byte) *store.Mutation,
	reusedOldL2 map[idcodec.NodeID]struct{},
) (idcodec.NodeID, []idcodec.NodeID, error) {
	oldL2ForSV := make(map[idcodec.NodeID]idcodec.NodeID, len(supervoxels))
	for l2, svs := range oldL2Children {
		for _, sv := range svs {
			oldL2ForSV[sv] = l2
		}
	}

	current := append([]idcodec.NodeID(nil), supervoxels...)
	var touchedL2 []idcodec.NodeID
	layer := 1

	for {
		if g.Meta.IsRootLayer(layer) {
			return current[0], touchedL2, nil
		}

		nextLayer := layer + 1
		if g.Meta.UseSkipConnections && layer >= 2 && len(current) == 1 {
			nextLayer = g.Meta.NumLayers
		}

		groups, order, err := groupByParentChunk(g, current, nextLayer)
		if err != nil {
			return 0, nil, err
		}

		var next []idcodec.NodeID
		for _, chunkID := range order {
			members := groups[chunkID]

			if layer == 1 {
				if reused, ok := matchExistingL2(members, oldL2ForSV, oldL2Children); ok {
					next = append(next, reused)
					reusedOldL2[reused] = struct{}{}
					continue
				}
			}

			seg, err := g.Store.AllocateSegment(ctx, store.NodeRowKey(chunkID))
			if err != nil {
				return 0, nil, chkerr.Wrap(chkerr.Internal, "allocate segment", err)
			}
			decoded := g.Codec.Decode(chunkID)
			minted, err := g.Codec.Encode(nextLayer, decoded.Coord, seg)
			if err != nil {
				return 0, nil, chkerr.Wrap(chkerr.Internal, "encode minted node", err)
			}

			mutFor(store.NodeRowKey(minted)).Set(graphmodel.ColChildren, graphmodel.EncodeNodeIDs(members), tau)
			for _, child := range members {
				mutFor(store.NodeRowKey(child)).Set(graphmodel.ColParent, graphmodel.EncodeNodeID(minted), tau)
			}
			if nextLayer == 2 {
				touchedL2 = append(touchedL2, minted)
			}
			next = append(next, minted)
		}

		current = next
		layer = nextLayer
	}
}

// matchExistingL2 reports whether members is exactly, as a set, the
// current children of some old layer-2 node, in which case that
// node's identity survives the recompute unchanged.
func matchExistingL2(members []idcodec.NodeID, oldL2ForSV, oldL2Children map[idcodec.NodeID][]idcodec.NodeID) (idcodec.NodeID, bool) {
	if len(members) == 0 {
		return 0, false
	}
	candidate, ok := oldL2ForSV[members[0]]
	if !ok {
		return 0, false
	}
	oldChildren, ok := oldL2Children[candidate]
	if !ok {
		return 0, false
	}
	return candidate, sortedSVKey(oldChildren) == sortedSVKey(members)
}

// groupByParentChunk buckets nodes by the chunk ID that owns them at
// targetLayer, preserving first-seen bucket order so output is
// deterministic given deterministic input.
func groupByParentChunk(g *registry.Graph, nodes []idcodec.NodeID, targetLayer int) (map[idcodec.NodeID][]idcodec.NodeID, []idcodec.NodeID, error) {
	groups := make(map[idcodec.NodeID][]idcodec.NodeID)
	var order []idcodec.NodeID
	for _, n := range nodes {
		pc, err := g.Codec.ParentChunkID(n, targetLayer)
		if err != nil {
			return nil, nil, chkerr.Wrap(chkerr.Internal, fmt.Sprintf("parent chunk of node %d at layer %d", n, targetLayer), err)
		}
		if _, ok := groups[pc]; !ok {
			order = append(order, pc)
		}
		groups[pc] = append(groups[pc], n)
	}
	return groups, order, nil
}

// updateCrossEdges rewrites the ColCrossEdges cell of every
// supervoxel touched by added or removed, regardless of whether its
// component's root actually changed: the atomic edge itself always
// changed, even for a "redundant" split or a no-op merge (spec §8,
// P2/P4).
func updateCrossEdges(
	ctx context.Context,
	g *registry.Graph,
	tau time.Time,
	added, removed []graphmodel.AtomicEdge,
	mutFor func([]byte) *store.Mutation,
) error {
	finalEdges := make(map[idcodec.NodeID]map[graphmodel.AtomicEdge]struct{})

	ensure := func(sv idcodec.NodeID) (map[graphmodel.AtomicEdge]struct{}, error) {
		if s, ok := finalEdges[sv]; ok {
			return s, nil
		}
		existing, err := hierarchy.GetAtomicEdges(ctx, g, sv, tau)
		if err != nil {
			return nil, err
		}
		s := make(map[graphmodel.AtomicEdge]struct{}, len(existing))
		for _, e := range existing {
			s[e.Normalized()] = struct{}{}
		}
		finalEdges[sv] = s
		return s, nil
	}

	for _, e := range removed {
		for _, sv := range [2]idcodec.NodeID{e.A, e.B} {
			s, err := ensure(sv)
			if err != nil {
				return err
			}
			delete(s, e.Normalized())
		}
	}
	for _, e := range added {
		for _, sv := range [2]idcodec.NodeID{e.A, e.B} {
			s, err := ensure(sv)
			if err != nil {
				return err
			}
			s[e.Normalized()] = struct{}{}
		}
	}

	for sv, set := range finalEdges {
		list := make([]graphmodel.AtomicEdge, 0, len(set))
		for e := range set {
			list = append(list, e)
		}
		mutFor(store.NodeRowKey(sv)).Set(graphmodel.ColCrossEdges, graphmodel.EncodeEdges(list), tau)
	}
	return nil
}

func sortedSVKey(ids []idcodec.NodeID) string {
	sorted := append([]idcodec.NodeID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return string(graphmodel.EncodeNodeIDs(sorted))
}
