// Package worker implements the per-pod Worker Consumer (§2 item 9, §9):
// the last hop between a dispatched event and a client's open SSE stream.
// Per the delivery-medium decision recorded in DESIGN.md, routing past the
// orchestration consumer runs over the cache dispatch regions rather than
// a per-pod broker topic, so this "consumer" is a poller against
// pkg/cache.SseDispatchRegion.PollPod rather than an eventbus.Consumer.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/broadcaster/pkg/cache"
	"github.com/codeready-toolchain/broadcaster/pkg/models"
	"github.com/codeready-toolchain/broadcaster/pkg/sse"
)

// Worker polls this pod's dispatch region on an interval and pushes
// whatever it finds into the local SSE Connection Manager.
type Worker struct {
	clusterPod string
	dispatch   *cache.SseDispatchRegion
	manager    *sse.Manager
	interval   time.Duration
	log        *slog.Logger

	seenGroup map[string]struct{} // de-dupes group entries across poll ticks
}

// New builds a Worker for this pod. clusterPod must match the coordinate
// the orchestration consumer uses (presence.WorkerTopicKey(cluster, pod)).
func New(clusterPod string, dispatch *cache.SseDispatchRegion, manager *sse.Manager, interval time.Duration, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		clusterPod: clusterPod, dispatch: dispatch, manager: manager, interval: interval, log: log,
		seenGroup: make(map[string]struct{}),
	}
}

// Run blocks, polling on Worker's interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	payloads, err := w.dispatch.PollPod(ctx, w.clusterPod)
	if err != nil {
		w.log.Warn("dispatch poll failed", "pod", w.clusterPod, "error", err)
		return
	}
	for _, p := range payloads {
		if p.TargetClusterPod != "" {
			// Per-user entry, already scoped to this pod by the scan prefix —
			// deliver to every local connection the owning user holds here.
			w.manager.PushToUser(p.TargetUserID, p.Event)
			continue
		}
		w.deliverGroupOnce(p.Event)
	}
}

// deliverGroupOnce dedupes a group (ALL-broadcast) entry by its SSE id so a
// long-lived entry re-scanned on the next tick (it isn't deleted on read,
// §4.7) isn't re-pushed to already-served local connections. The dedupe set
// is unbounded by design within one pod's process lifetime — group entries
// are few (one per ALL broadcast lifecycle transition) and TTL-reaped from
// the cache itself; it is not a substitute for cache eviction.
func (w *Worker) deliverGroupOnce(event models.SSEEvent) {
	if _, seen := w.seenGroup[event.ID]; seen {
		return
	}
	w.seenGroup[event.ID] = struct{}{}
	w.manager.PushToAll(event)
}
