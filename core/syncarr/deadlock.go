package syncarr

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Deadlock detection walks wait-for edges: from a waiting cell to the
// holders of its wait object, and from each holder to the cell that holder
// is itself waiting in. A path that closes back on the starting goroutine is
// a latch deadlock and is fatal, since latch waits have no timeout.
//
// Edges follow the request semantics: a shared request conflicts only with
// the writer (current or draining), an exclusive request conflicts with the
// writer and every tracked reader. RWLocks record reader identities only
// while deadlock detection is enabled, which is also the only time this walk
// runs, so edges from exclusive requests reach readers as well. A requester
// that is itself among the holders closes a cycle at once.

type waitEdge struct {
	obj  WaitObject
	req  RequestType
	goid int64
	file string
	age  time.Duration
}

// snapshotWaiters collects every reserved waiting cell across all arrays,
// keyed by waiting goroutine.
func (r *Registry) snapshotWaiters() map[int64]waitEdge {
	now := time.Now()
	m := make(map[int64]waitEdge)
	for _, a := range r.arrays {
		a.mu.Lock()
		for i := range a.cells {
			c := &a.cells[i]
			if c.obj == nil {
				continue
			}
			m[c.goid] = waitEdge{
				obj:  c.obj,
				req:  c.req,
				goid: c.goid,
				file: c.file,
				age:  now.Sub(c.reservedAt),
			}
		}
		a.mu.Unlock()
	}
	return m
}

// checkDeadlock runs cycle detection starting from the goroutine that just
// reserved a cell for (obj, req). Called before parking, never with an array
// mutex held.
func (r *Registry) checkDeadlock(start int64, obj WaitObject, req RequestType) {
	waiters := r.snapshotWaiters()
	visited := make(map[int64]bool)
	var path []waitEdge

	var visit func(obj WaitObject, req RequestType) bool
	visit = func(obj WaitObject, req RequestType) bool {
		for _, h := range obj.HolderIDs(req) {
			if h == 0 || h == -1 {
				continue
			}
			if h == start {
				return true
			}
			if visited[h] {
				continue
			}
			visited[h] = true
			e, waiting := waiters[h]
			if !waiting {
				continue
			}
			path = append(path, e)
			if visit(e.obj, e.req) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}

	if !visit(obj, req) {
		return
	}

	r.logger.Error("DEADLOCK detected among latch waiters",
		zap.Int64("goroutine", start),
		zap.String("object", obj.Name()),
		zap.String("request", req.String()),
	)
	for _, e := range path {
		r.logger.Error("deadlock path cell",
			zap.Int64("goroutine", e.goid),
			zap.String("object", e.obj.Name()),
			zap.String("request", e.req.String()),
			zap.String("reserved_at", e.file),
			zap.Duration("waited", e.age),
		)
	}
	r.fatal(fmt.Sprintf("latch deadlock: goroutine %d requesting %s on %s", start, req, obj.Name()))
}
