package hierarchy

import (
	"context"
	"time"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmodel"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
)

// SubgraphNodes is the result of descending a root's subtree (spec
// §4.3's "either a flattened supervoxel list, a node→supervoxels map,
// or a per-layer node map" — all three are cheap byproducts of the
// same descent, so GetSubgraphNodes returns them together).
type SubgraphNodes struct {
	PerLayer          map[int][]idcodec.NodeID
	Supervoxels       []idcodec.NodeID
	NodeToSupervoxels map[idcodec.NodeID][]idcodec.NodeID
}

// GetSubgraphNodes descends root's Child tree as of t, pruning any
// subtree whose chunk bounding box is disjoint from bbox (bbox == nil
// means no pruning). Descent stops at stopLayer (1 means supervoxels).
func GetSubgraphNodes(ctx context.Context, g *registry.Graph, root idcodec.NodeID, t time.Time, bbox *BBox, stopLayer int) (*SubgraphNodes, error) {
	if stopLayer <= 0 {
		stopLayer = 1
	}

	result := &SubgraphNodes{
		PerLayer:          make(map[int][]idcodec.NodeID),
		NodeToSupervoxels: make(map[idcodec.NodeID][]idcodec.NodeID),
	}

	var descend func(node idcodec.NodeID) error
	descend = func(node idcodec.NodeID) error {
		layer := g.Codec.Layer(node)
		result.PerLayer[layer] = append(result.PerLayer[layer], node)

		if layer <= stopLayer {
			if layer == 1 {
				result.Supervoxels = append(result.Supervoxels, node)
			}
			return nil
		}

		children, err := GetChildren(ctx, g, node, t)
		if err != nil {
			return err
		}

		var keptSupervoxels []idcodec.NodeID
		for _, child := range children {
			childLayer := g.Codec.Layer(child)
			if bbox != nil {
				decoded := g.Codec.Decode(child)
				min, max := g.Meta.ChunkBounds([3]uint64{decoded.Coord.X, decoded.Coord.Y, decoded.Coord.Z}, childLayer)
				if bbox.Disjoint(min, max) {
					continue
				}
			}
			if err := descend(child); err != nil {
				return err
			}
			if childLayer == 1 {
				keptSupervoxels = append(keptSupervoxels, child)
			}
		}
		if len(keptSupervoxels) > 0 {
			result.NodeToSupervoxels[node] = keptSupervoxels
		}
		return nil
	}

	if err := descend(root); err != nil {
		return nil, err
	}
	return result, nil
}

// Subgraph is a root's induced atomic-edge subgraph (spec §4.3's
// get_subgraph): the supervoxels beneath root plus every atomic edge
// whose both endpoints are among them.
type Subgraph struct {
	Supervoxels []idcodec.NodeID
	Edges       []graphmodel.AtomicEdge
}

// GetSubgraph is GetSubgraphNodes(stopLayer=1) plus the atomic edges
// incident to the returned supervoxels, filtered to both-endpoints-in.
func GetSubgraph(ctx context.Context, g *registry.Graph, root idcodec.NodeID, t time.Time, bbox *BBox) (*Subgraph, error) {
	nodes, err := GetSubgraphNodes(ctx, g, root, t, bbox, 1)
	if err != nil {
		return nil, err
	}

	inSet := make(map[idcodec.NodeID]struct{}, len(nodes.Supervoxels))
	for _, sv := range nodes.Supervoxels {
		inSet[sv] = struct{}{}
	}

	seen := make(map[graphmodel.AtomicEdge]struct{})
	var edges []graphmodel.AtomicEdge
	for _, sv := range nodes.Supervoxels {
		svEdges, err := GetAtomicEdges(ctx, g, sv, t)
		if err != nil {
			return nil, err
		}
		for _, e := range svEdges {
			if _, ok := inSet[e.Other(sv)]; !ok {
				continue
			}
			ne := e.Normalized()
			if _, dup := seen[ne]; dup {
				continue
			}
			seen[ne] = struct{}{}
			edges = append(edges, ne)
		}
	}

	return &Subgraph{Supervoxels: nodes.Supervoxels, Edges: edges}, nil
}

// GetAtomicEdges returns the atomic edges stored on supervoxel sv's
// own row as of t (spec §9: "edges live only conceptually at layer
// 1" — this package keeps the authoritative copy on the supervoxel
// itself rather than duplicating it on every ancestor).
func GetAtomicEdges(ctx context.Context, g *registry.Graph, sv idcodec.NodeID, t time.Time) ([]graphmodel.AtomicEdge, error) {
	if g.Codec.Layer(sv) != 1 {
		return nil, chkerr.Newf(chkerr.BadRequest, "node %d is not a supervoxel", sv)
	}
	row, err := getNodeRow(ctx, g, sv)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	cell, ok := row.Newest(graphmodel.ColCrossEdges, t)
	if !ok {
		return nil, nil
	}
	edges, err := graphmodel.DecodeEdges(cell.Value)
	if err != nil {
		return nil, chkerr.Wrap(chkerr.Internal, "decode atomic edges", err)
	}
	return edges, nil
}
