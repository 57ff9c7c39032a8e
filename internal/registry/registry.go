// Package registry keeps one initialized Graph handle per table ID for
// the lifetime of the process. The teacher repo builds a fresh
// sync.Once-guarded singleton for every repository it needs
// (JobRepository, UserRepository, NodeRepository, ...); a
// ChunkedGraph deployment instead serves an open-ended, runtime-known
// set of tables, so this package generalizes that one-singleton-per-
// concern pattern into a single keyed registry instead of hand-writing
// a new sync.Once/instance pair per table.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seung-lab/chunkedgraph-go/internal/bus"
	"github.com/seung-lab/chunkedgraph-go/internal/cache"
	"github.com/seung-lab/chunkedgraph-go/internal/graphmeta"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/store"
)

// childrenCacheBytes bounds the per-table children cache (package
// hierarchy's GetChildren) in total; each entry is charged a rough
// per-node size estimate, not a precise accounting of the decoded ID
// slice's memory.
const childrenCacheBytes = 64 << 20

// LockOptions overrides package rootlock's DefaultOptions timings for
// one table. The zero value means "use rootlock's defaults"; this
// mirrors rootlock.Options' shape rather than importing it directly,
// since rootlock already imports registry for *Graph and a reverse
// import would cycle.
type LockOptions struct {
	Lease        time.Duration
	RenewEvery   time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Graph bundles everything an operation on one table needs: the
// backend store, the chunk/ID geometry, the codec derived from it, an
// (optional) publisher for the l2-updated notification, a
// read-through cache for the Child column (spec §3: "written once at
// creation time, never rewritten", so it never needs invalidation),
// and this table's lock-lease tuning.
type Graph struct {
	TableID  string
	Store    store.BackendStore
	Meta     *graphmeta.Meta
	Codec    *idcodec.Codec
	Bus      *bus.Publisher
	Children *cache.Cache
	Lock     LockOptions
}

// newGraph builds a Graph from its Store/Meta/Bus plus the derived
// fields: the Codec from Meta and an empty Children cache. Callers pass
// the result to Register, or supply an Init func to GetOrInit.
func newGraph(tableID string, st store.BackendStore, meta *graphmeta.Meta, pub *bus.Publisher) *Graph {
	return &Graph{
		TableID:  tableID,
		Store:    st,
		Meta:     meta,
		Codec:    idcodec.New(meta),
		Bus:      pub,
		Children: cache.New(childrenCacheBytes),
	}
}

// New builds a ready-to-register Graph for tableID.
func New(tableID string, st store.BackendStore, meta *graphmeta.Meta, pub *bus.Publisher) *Graph {
	return newGraph(tableID, st, meta, pub)
}

// inflight marks a table ID whose init func is currently running, so
// concurrent callers for the same ID wait on it instead of each
// calling init themselves.
type inflight struct {
	done chan struct{}
	g    *Graph
	err  error
}

// Registry is a process-wide, concurrency-safe cache of Graph handles
// keyed by table ID.
type Registry struct {
	mu       sync.Mutex
	tables   map[string]*Graph
	inflight map[string]*inflight
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tables:   make(map[string]*Graph),
		inflight: make(map[string]*inflight),
	}
}

// Register installs g under g.TableID, replacing any existing entry.
func (r *Registry) Register(g *Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[g.TableID] = g
}

// Get returns the Graph registered for tableID, if any.
func (r *Registry) Get(tableID string) (*Graph, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.tables[tableID]
	return g, ok
}

// MustGet is Get, returning an error instead of a boolean, for call
// sites that treat an unregistered table as a request-level failure
// rather than a programming error.
func (r *Registry) MustGet(tableID string) (*Graph, error) {
	g, ok := r.Get(tableID)
	if !ok {
		return nil, fmt.Errorf("registry: table %q is not registered", tableID)
	}
	return g, nil
}

// GetOrInit returns the Graph registered for tableID, calling init to
// build and register one if it is not yet present. init runs at most
// once per tableID even under concurrent callers: the first caller
// runs it and the rest wait on the result. A failed init is not
// cached, so a later call retries.
func (r *Registry) GetOrInit(ctx context.Context, tableID string, init func(ctx context.Context) (*Graph, error)) (*Graph, error) {
	for {
		r.mu.Lock()
		if g, ok := r.tables[tableID]; ok {
			r.mu.Unlock()
			return g, nil
		}
		if inf, ok := r.inflight[tableID]; ok {
			r.mu.Unlock()
			<-inf.done
			if inf.err != nil {
				continue // the owner's init failed; retry as the new owner
			}
			return inf.g, nil
		}
		inf := &inflight{done: make(chan struct{})}
		r.inflight[tableID] = inf
		r.mu.Unlock()

		g, err := init(ctx)
		if err == nil && g.TableID == "" {
			g.TableID = tableID
		}
		inf.g, inf.err = g, err
		close(inf.done)

		r.mu.Lock()
		delete(r.inflight, tableID)
		if err == nil {
			r.tables[tableID] = g
		}
		r.mu.Unlock()
		return g, err
	}
}

// Remove drops tableID's entry, if present. Used by tests and by
// table-deletion tooling; not part of the steady-state read/write path.
func (r *Registry) Remove(tableID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, tableID)
}
