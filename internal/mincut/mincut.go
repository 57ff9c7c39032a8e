// Package mincut computes the bounded-box min-cut that backs Multicut
// (spec §4.8): given a set of source and sink supervoxels, it fetches
// the induced atomic-edge subgraph within a padded bounding box, builds
// a super-source/super-sink flow network weighted by stored affinity,
// and returns the min-cut edge set. original_source doesn't carry the
// cut implementation itself (pychunkedgraph delegates to networkx's
// boykov_kolmogorov min-cut, which isn't in any example repo's
// dependency surface), so the max-flow solver here is a hand-rolled
// Dinic's algorithm grounded directly in the spec's own description of
// the flow network (step 3 of §4.8) rather than any one example file.
package mincut

import (
	"context"
	"math"
	"time"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmodel"
	"github.com/seung-lab/chunkedgraph-go/internal/hierarchy"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
)

// DefaultBBoxOffset is the padding applied to the source/sink
// coordinate hull when the caller supplies none (spec §4.8, "default
// (240, 240, 24) in nm-scaled chunk units").
var DefaultBBoxOffset = graphmodel.Coord3{X: 240, Y: 240, Z: 24}

// Request describes one multicut or split_preview call.
type Request struct {
	SourceIDs    []idcodec.NodeID
	SinkIDs      []idcodec.NodeID
	SourceCoords []graphmodel.Coord3
	SinkCoords   []graphmodel.Coord3
	BBoxOffset   *graphmodel.Coord3
}

// Result is the outcome of one cut attempt.
type Result struct {
	// RemovedEdges is the min-cut edge set, empty if sources and sinks
	// are already disconnected within the bbox.
	RemovedEdges []graphmodel.AtomicEdge

	// Illegal reports that some source can still reach some sink using
	// only finite-affinity edges after RemovedEdges is removed — the
	// candidate cut doesn't actually separate the requested groups
	// (spec §4.8 step 4, "returned in split_preview").
	Illegal bool
}

// cutOutcome is the shared computation behind Cut and Preview: fetch
// the bbox-bounded subgraph, build the flow network, saturate it, and
// read off the resulting edge cut and node partition.
type cutOutcome struct {
	sub        *hierarchy.Subgraph
	net        *flowNetwork
	reachable  []bool
	cut        []graphmodel.AtomicEdge
}

func computeCut(ctx context.Context, g *registry.Graph, root idcodec.NodeID, t time.Time, req Request) (*cutOutcome, error) {
	if len(req.SourceIDs) == 0 || len(req.SinkIDs) == 0 {
		return nil, chkerr.New(chkerr.BadRequest, "multicut requires at least one source and one sink supervoxel")
	}

	offset := DefaultBBoxOffset
	if req.BBoxOffset != nil {
		offset = *req.BBoxOffset
	}
	hull := hierarchy.HullOf(append(coordPoints(req.SourceCoords), coordPoints(req.SinkCoords)...))
	bbox := hull.Expand([3]float64{offset.X, offset.Y, offset.Z})

	sub, err := hierarchy.GetSubgraph(ctx, g, root, t, &bbox)
	if err != nil {
		return nil, err
	}

	net, err := newFlowNetwork(sub.Supervoxels, sub.Edges, req.SourceIDs, req.SinkIDs)
	if err != nil {
		return nil, err
	}
	net.maxFlow()
	reachable := net.residualReachability()

	var cut []graphmodel.AtomicEdge
	for _, e := range sub.Edges {
		ai, aok := net.index[e.A]
		bi, bok := net.index[e.B]
		if !aok || !bok {
			continue
		}
		if reachable[ai] != reachable[bi] {
			cut = append(cut, e.Normalized())
		}
	}

	return &cutOutcome{sub: sub, net: net, reachable: reachable, cut: cut}, nil
}

// Cut computes the min-cut separating req.SourceIDs from req.SinkIDs
// within root's subgraph, as of t. root must be the single root shared
// by every source and sink supervoxel (the caller — MulticutOperation
// or the split_preview RPC — resolves and validates this beforehand).
func Cut(ctx context.Context, g *registry.Graph, root idcodec.NodeID, t time.Time, req Request) (*Result, error) {
	outcome, err := computeCut(ctx, g, root, t, req)
	if err != nil {
		return nil, err
	}
	return &Result{
		RemovedEdges: outcome.cut,
		Illegal:      outcome.net.stillConnected(req.SourceIDs, req.SinkIDs, outcome.cut),
	}, nil
}

// Preview is split_preview (spec §4.8): it runs the same cut as Cut
// but additionally partitions the bbox subgraph's supervoxels into the
// two candidate components the cut would produce, without writing
// anything — Cut itself already never mutates the graph, so Preview is
// just Cut plus the two-sided reachability readout the RPC needs.
func Preview(ctx context.Context, g *registry.Graph, root idcodec.NodeID, t time.Time, req Request) (*PreviewResult, error) {
	outcome, err := computeCut(ctx, g, root, t, req)
	if err != nil {
		return nil, err
	}

	var sourceSide, sinkSide []idcodec.NodeID
	for _, sv := range outcome.sub.Supervoxels {
		if outcome.reachable[outcome.net.index[sv]] {
			sourceSide = append(sourceSide, sv)
		} else {
			sinkSide = append(sinkSide, sv)
		}
	}

	return &PreviewResult{
		SourceSideSupervoxels: sourceSide,
		SinkSideSupervoxels:   sinkSide,
		RemovedEdges:          outcome.cut,
		IllegalSplit:          outcome.net.stillConnected(req.SourceIDs, req.SinkIDs, outcome.cut),
	}, nil
}

// PreviewResult is the non-mutating result of split_preview.
type PreviewResult struct {
	SourceSideSupervoxels []idcodec.NodeID
	SinkSideSupervoxels   []idcodec.NodeID
	RemovedEdges          []graphmodel.AtomicEdge
	IllegalSplit          bool
}

func coordPoints(coords []graphmodel.Coord3) [][3]float64 {
	out := make([][3]float64, len(coords))
	for i, c := range coords {
		out[i] = [3]float64{c.X, c.Y, c.Z}
	}
	return out
}

// infiniteCapacity stands in for the "∞" arcs from the super-source to
// every requested source, and from every requested sink to the
// super-sink (spec §4.8 step 3): large enough to never be the binding
// constraint against any real affinity, but finite so Dinic's BFS/DFS
// loops terminate on floating-point arithmetic.
const infiniteCapacity = math.MaxFloat32

// flowNetwork is a directed graph over supervoxel indices plus a
// synthetic super-source and super-sink, built once per Cut call and
// solved with Dinic's algorithm.
type flowNetwork struct {
	index      map[idcodec.NodeID]int // supervoxel -> node index
	superSrc   int
	superSink  int
	numNodes   int
	arcs       []arc
	adj        [][]int // node -> arc indices starting at that node
	level      []int
	iter       []int
}

type arc struct {
	to       int
	cap      float64
	flow     float64
}

func newFlowNetwork(supervoxels []idcodec.NodeID, edges []graphmodel.AtomicEdge, sources, sinks []idcodec.NodeID) (*flowNetwork, error) {
	index := make(map[idcodec.NodeID]int, len(supervoxels))
	for i, sv := range supervoxels {
		index[sv] = i
	}
	net := &flowNetwork{
		index:     index,
		superSrc:  len(supervoxels),
		superSink: len(supervoxels) + 1,
		numNodes:  len(supervoxels) + 2,
	}
	net.adj = make([][]int, net.numNodes)

	for _, e := range edges {
		ai, aok := index[e.A]
		bi, bok := index[e.B]
		if !aok || !bok {
			continue
		}
		cap := float64(e.Affinity)
		net.addArc(ai, bi, cap)
		net.addArc(bi, ai, cap)
	}

	for _, s := range sources {
		i, ok := index[s]
		if !ok {
			return nil, chkerr.Newf(chkerr.Precondition, "source supervoxel %d is outside the multicut bounding box", s)
		}
		net.addArc(net.superSrc, i, infiniteCapacity)
	}
	for _, s := range sinks {
		i, ok := index[s]
		if !ok {
			return nil, chkerr.Newf(chkerr.Precondition, "sink supervoxel %d is outside the multicut bounding box", s)
		}
		net.addArc(i, net.superSink, infiniteCapacity)
	}

	return net, nil
}

// addArc adds a forward arc with the given capacity and a zero-capacity
// reverse arc used by Dinic's residual-graph bookkeeping.
func (n *flowNetwork) addArc(from, to int, cap float64) {
	n.adj[from] = append(n.adj[from], len(n.arcs))
	n.arcs = append(n.arcs, arc{to: to, cap: cap})
	n.adj[to] = append(n.adj[to], len(n.arcs))
	n.arcs = append(n.arcs, arc{to: from, cap: 0})
}

func (n *flowNetwork) residual(arcIdx int) float64 {
	return n.arcs[arcIdx].cap - n.arcs[arcIdx].flow
}

// maxFlow runs Dinic's algorithm from the super-source to the
// super-sink, saturating the network in place.
func (n *flowNetwork) maxFlow() float64 {
	var total float64
	for n.bfsLevels() {
		n.iter = make([]int, n.numNodes)
		for {
			pushed := n.dfsBlock(n.superSrc, n.superSink, math.MaxFloat64)
			if pushed <= 0 {
				break
			}
			total += pushed
		}
	}
	return total
}

func (n *flowNetwork) bfsLevels() bool {
	n.level = make([]int, n.numNodes)
	for i := range n.level {
		n.level[i] = -1
	}
	n.level[n.superSrc] = 0
	queue := []int{n.superSrc}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, idx := range n.adj[u] {
			a := n.arcs[idx]
			if n.residual(idx) > 1e-9 && n.level[a.to] < 0 {
				n.level[a.to] = n.level[u] + 1
				queue = append(queue, a.to)
			}
		}
	}
	return n.level[n.superSink] >= 0
}

func (n *flowNetwork) dfsBlock(u, sink int, limit float64) float64 {
	if u == sink {
		return limit
	}
	for ; n.iter[u] < len(n.adj[u]); n.iter[u]++ {
		idx := n.adj[u][n.iter[u]]
		a := n.arcs[idx]
		if n.residual(idx) <= 1e-9 || n.level[a.to] != n.level[u]+1 {
			continue
		}
		pushed := n.dfsBlock(a.to, sink, math.Min(limit, n.residual(idx)))
		if pushed <= 0 {
			continue
		}
		n.arcs[idx].flow += pushed
		n.arcs[idx^1].flow -= pushed
		return pushed
	}
	return 0
}

// residualReachability returns, for every node index (including the
// super-source/sink), whether it's reachable from the super-source in
// the final residual graph — the S side of the min-cut partition.
func (n *flowNetwork) residualReachability() []bool {
	reach := make([]bool, n.numNodes)
	reach[n.superSrc] = true
	queue := []int{n.superSrc}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, idx := range n.adj[u] {
			a := n.arcs[idx]
			if n.residual(idx) > 1e-9 && !reach[a.to] {
				reach[a.to] = true
				queue = append(queue, a.to)
			}
		}
	}
	return reach
}

type edgeKey struct {
	a, b idcodec.NodeID
}

func normalizedKey(a, b idcodec.NodeID) edgeKey {
	if a <= b {
		return edgeKey{a, b}
	}
	return edgeKey{b, a}
}

// stillConnected reports whether, after removing cut from the original
// (non-super) graph, some source can still reach some sink using only
// the remaining finite-affinity edges — the illegal-cut condition of
// spec §4.8 step 4.
func (n *flowNetwork) stillConnected(sources, sinks []idcodec.NodeID, cut []graphmodel.AtomicEdge) bool {
	removed := make(map[edgeKey]struct{}, len(cut))
	for _, e := range cut {
		removed[normalizedKey(e.A, e.B)] = struct{}{}
	}

	sinkSet := make(map[idcodec.NodeID]struct{}, len(sinks))
	for _, s := range sinks {
		sinkSet[s] = struct{}{}
	}

	byIndex := make([]idcodec.NodeID, len(n.index))
	for node, idx := range n.index {
		byIndex[idx] = node
	}

	adjacency := make(map[idcodec.NodeID][]idcodec.NodeID)
	for node, idx := range n.index {
		for _, arcIdx := range n.adj[idx] {
			a := n.arcs[arcIdx]
			if a.to == n.superSrc || a.to == n.superSink || a.cap == infiniteCapacity {
				continue
			}
			other := byIndex[a.to]
			if _, cutOut := removed[normalizedKey(node, other)]; cutOut {
				continue
			}
			adjacency[node] = append(adjacency[node], other)
		}
	}

	for _, src := range sources {
		visited := map[idcodec.NodeID]struct{}{src: {}}
		queue := []idcodec.NodeID{src}
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			if _, ok := sinkSet[u]; ok && u != src {
				return true
			}
			for _, v := range adjacency[u] {
				if _, ok := visited[v]; ok {
					continue
				}
				visited[v] = struct{}{}
				queue = append(queue, v)
			}
		}
	}
	return false
}
