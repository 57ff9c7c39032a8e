// Package rootlock implements the scoped, multi-root exclusive lock
// every edit acquires before touching the hierarchy (spec.md §4.4):
// sorted acquisition order to avoid deadlock, bounded retry on
// contention, and a background lease-renewal job for the duration of
// the edit. The renewal job is a gocron.Scheduler, the same library
// the teacher repo uses for its periodic background jobs
// (internal/taskManager/taskManager.go registers one job per
// maintenance task on a shared scheduler; RootLock instead owns one
// short-lived scheduler per in-flight edit).
package rootlock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/seung-lab/chunkedgraph-go/internal/chkerr"
	"github.com/seung-lab/chunkedgraph-go/internal/idcodec"
	"github.com/seung-lab/chunkedgraph-go/internal/registry"
	"github.com/seung-lab/chunkedgraph-go/internal/store"
	"github.com/seung-lab/chunkedgraph-go/pkg/cglog"
)

// Options configures lock acquisition.
type Options struct {
	// Lease is how long a held lock survives without renewal.
	Lease time.Duration
	// RenewEvery schedules the renewal job; should be well under Lease
	// (a third of it is a reasonable default).
	RenewEvery time.Duration
	// MaxAttempts bounds the retry loop per root (spec §4.4 step 3).
	MaxAttempts int
	// RetryBackoff is the delay between attempts.
	RetryBackoff time.Duration
}

// DefaultOptions mirrors the teacher's "2m" default job interval scaled
// down to something sensible for an in-process edit lock.
func DefaultOptions() Options {
	return Options{
		Lease:        30 * time.Second,
		RenewEvery:   10 * time.Second,
		MaxAttempts:  5,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// RootLock is a held lock over a sorted set of root IDs, with a
// background goroutine renewing the lease until Release is called.
type RootLock struct {
	g             *registry.Graph
	operationID   uint64
	rootIDs       []idcodec.NodeID
	lockTimestamp time.Time
	opts          Options

	scheduler gocron.Scheduler

	mu       sync.Mutex
	released bool
}

// Acquire sorts rootIDs, mints a fresh operation ID, and locks each
// root row in order, releasing everything already acquired and
// failing with a Locking error if any attempt exhausts its retry
// budget (spec §4.4 steps 1-3).
func Acquire(ctx context.Context, g *registry.Graph, rootIDs []idcodec.NodeID, opts Options) (*RootLock, error) {
	sorted := dedupSorted(rootIDs)
	if len(sorted) == 0 {
		return nil, chkerr.New(chkerr.BadRequest, "rootlock: no root IDs to lock")
	}

	operationID, err := g.Store.AllocateOperationID(ctx)
	if err != nil {
		return nil, chkerr.Wrap(chkerr.Internal, "allocate operation ID", err)
	}

	rl := &RootLock{g: g, operationID: operationID, opts: opts}

	var acquired []idcodec.NodeID
	var maxTS time.Time
	for _, root := range sorted {
		ts, err := lockWithRetry(ctx, g.Store, root, operationID, opts)
		if err != nil {
			rl.releaseRoots(context.Background(), acquired)
			return nil, chkerr.Wrap(chkerr.Locking, fmt.Sprintf("acquire lock on root %d", root), err)
		}
		acquired = append(acquired, root)
		if ts.After(maxTS) {
			maxTS = ts
		}
	}

	rl.rootIDs = acquired
	// Every root's lock cell commits at a slightly different instant;
	// using the latest of them as lock_timestamp keeps the single
	// logical edit timestamp at or after every root's own commit, so a
	// reader at that timestamp never observes a partially-locked state.
	rl.lockTimestamp = maxTS

	if err := rl.startRenewal(); err != nil {
		rl.releaseRoots(context.Background(), acquired)
		return nil, chkerr.Wrap(chkerr.Internal, "start lease renewal", err)
	}

	return rl, nil
}

func lockWithRetry(ctx context.Context, st store.BackendStore, root idcodec.NodeID, operationID uint64, opts Options) (time.Time, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(opts.RetryBackoff):
			case <-ctx.Done():
				return time.Time{}, ctx.Err()
			}
		}
		ts, err := st.Lock(ctx, store.NodeRowKey(root), operationID, opts.Lease)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// startRenewal launches a gocron scheduler that renews every held
// root's lease every RenewEvery. gocron.DurationJob fires its first
// run only after one full interval has elapsed (there is no
// "run immediately, then repeat" job type in gocron/v2 short of
// gocron.WithStartAt with an already-past time, which some gocron
// versions still defer to the first tick rather than kicking
// immediately) -- since RenewEvery is chosen well under Lease, this
// lag is harmless: the first natural renewal lands comfortably before
// the initial lease would expire.
func (rl *RootLock) startRenewal() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = s.NewJob(
		gocron.DurationJob(rl.opts.RenewEvery),
		gocron.NewTask(func() {
			rl.renewAll(context.Background())
		}),
	)
	if err != nil {
		return err
	}
	s.Start()
	rl.scheduler = s
	return nil
}

func (rl *RootLock) renewAll(ctx context.Context) {
	rl.mu.Lock()
	if rl.released {
		rl.mu.Unlock()
		return
	}
	roots := rl.rootIDs
	rl.mu.Unlock()

	for _, root := range roots {
		if err := rl.g.Store.Renew(ctx, store.NodeRowKey(root), rl.operationID, rl.opts.Lease); err != nil {
			cglog.Warnf("rootlock: failed to renew root %d for operation %d: %v", root, rl.operationID, err)
		}
	}
}

func (rl *RootLock) releaseRoots(ctx context.Context, roots []idcodec.NodeID) {
	for _, root := range roots {
		if err := rl.g.Store.Unlock(ctx, store.NodeRowKey(root), rl.operationID); err != nil {
			cglog.Warnf("rootlock: failed to unlock root %d for operation %d: %v", root, rl.operationID, err)
		}
	}
}

// Release stops lease renewal and unlocks every held root. It is safe
// to call more than once and safe to call after ctx has been
// cancelled; every path out of an edit must call it (spec §4.4: "on
// exit, locks are released on every path").
func (rl *RootLock) Release(ctx context.Context) {
	rl.mu.Lock()
	if rl.released {
		rl.mu.Unlock()
		return
	}
	rl.released = true
	roots := rl.rootIDs
	scheduler := rl.scheduler
	rl.mu.Unlock()

	if scheduler != nil {
		_ = scheduler.Shutdown()
	}
	rl.releaseRoots(ctx, roots)
}

// OperationID returns the operation ID minted for this lock.
func (rl *RootLock) OperationID() uint64 { return rl.operationID }

// RootIDs returns the sorted, deduplicated root IDs held.
func (rl *RootLock) RootIDs() []idcodec.NodeID { return rl.rootIDs }

// LockTimestamp returns the single logical commit timestamp every
// mutation of this edit must be stamped with.
func (rl *RootLock) LockTimestamp() time.Time { return rl.lockTimestamp }

// ConditionalLockKeys returns the row keys bulk_write must verify are
// still held by this operation at commit time.
func (rl *RootLock) ConditionalLockKeys() [][]byte {
	keys := make([][]byte, len(rl.rootIDs))
	for i, root := range rl.rootIDs {
		keys[i] = store.NodeRowKey(root)
	}
	return keys
}

func dedupSorted(ids []idcodec.NodeID) []idcodec.NodeID {
	seen := make(map[idcodec.NodeID]struct{}, len(ids))
	out := make([]idcodec.NodeID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
