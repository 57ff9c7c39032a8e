package graphmodel

// Column names for the versioned cells on a hierarchy node row (spec
// §3's "Parent"/"Child" columns, generalized with the few extra
// columns the recomputation and lineage algorithms need).
const (
	// ColParent holds the node's current parent ID, EncodeNodeID'd. A
	// zero-length value is a tombstone: "no parent is valid at or after
	// this cell's timestamp" (the node was itself retired).
	ColParent = "parent"

	// ColChildren holds the node's child IDs, EncodeNodeIDs'd. Written
	// once at the node's creation time; never rewritten.
	ColChildren = "children"

	// ColCrossEdges is set on supervoxel rows only and holds every
	// atomic edge incident to that supervoxel, EncodeEdges'd; an edit
	// rewrites it for each supervoxel whose edges it changes.
	ColCrossEdges = "cross_edges"

	// ColFormerIDs / ColNewIDs record the lineage pointers spec §3
	// calls Former*/New*: the node(s) this node replaced, and the
	// node(s) that replaced it.
	ColFormerIDs = "former_ids"
	ColNewIDs    = "new_ids"

	// ColRootSuperseded is written on a root row the moment a later
	// edit retires it, as a single marker byte. An absent cell at time
	// t means the root is still latest at t
	// (spec §8 P6).
	ColRootSuperseded = "root_superseded"
)

// OperationLog columns (one operation log row per committed edit,
// keyed by store.OperationLogRowKey).
const (
	ColLogKind         = "kind"
	ColLogUserID       = "user_id"
	ColLogSourceIDs    = "source_ids"
	ColLogSinkIDs      = "sink_ids"
	ColLogSourceCoords = "source_coords"
	ColLogSinkCoords   = "sink_coords"
	ColLogAddedEdges   = "added_edges"
	ColLogRemovedEdges = "removed_edges"
	ColLogBBoxOffset   = "bbox_offset"
	ColLogNewRoots     = "new_roots"
	ColLogFormerRoots  = "former_roots"
	ColLogStatus       = "status"
	ColLogUndoOf       = "undo_of"
	ColLogRedoOf       = "redo_of"
)
