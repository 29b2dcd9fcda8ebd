package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/logs"
)

// TriggerReplenish schedules a replenish pass without blocking the caller.
// Overlapping passes collapse into one via the replenishing flag; a new
// trigger after a pass completes starts a fresh one. The pass is registered
// on the loops group under the lock so Stop cannot miss it.
func (p *Pool) TriggerReplenish() {
	p.mu.Lock()
	if p.stopped.Load() {
		p.mu.Unlock()
		return
	}
	p.loops.Add(1)
	p.mu.Unlock()
	go func() {
		defer p.loops.Done()
		p.replenish(logs.NewContext())
	}()
}

// replenish creates workers until the idle floor is met, bounded by the room
// left under MaxTotalWorkers. Creation happens concurrently outside the lock;
// each new worker enters the registry only after passing its health probe.
func (p *Pool) replenish(ctx context.Context) {
	log := klog.FromContext(ctx)
	if p.stopped.Load() {
		return
	}

	p.mu.Lock()
	if p.replenishing {
		p.mu.Unlock()
		return
	}
	need := p.opts.MinIdleWorkers - len(p.idle)
	room := p.opts.MaxTotalWorkers - len(p.workers)
	n := min(need, room)
	if n <= 0 {
		p.mu.Unlock()
		return
	}
	p.replenishing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.replenishing = false
		p.mu.Unlock()
	}()

	log.Info("replenishing idle pool", "need", n)
	var succeeded int
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := p.createWorker(ctx)
			if err != nil {
				log.Error(err, "failed to create worker during replenishment")
				return
			}
			p.mu.Lock()
			if p.stopped.Load() {
				p.mu.Unlock()
				p.destroyWorker(ctx, w, "shutdown")
				return
			}
			p.workers[w.ContainerID] = w
			p.idle[w.ContainerID] = struct{}{}
			succeeded++
			p.updateGauges()
			p.mu.Unlock()
		}()
	}
	wg.Wait()
	log.Info("replenish pass finished", "requested", n, "succeeded", succeeded)
}

// cleanupStale deletes every container bearing the management label. Workers
// never survive a gateway restart; their sessions were lost with the process.
func (p *Pool) cleanupStale(ctx context.Context) {
	log := klog.FromContext(ctx)
	ids, err := p.driver.ListManaged(ctx)
	if err != nil {
		log.Error(err, "failed to list stale worker containers")
		return
	}
	if len(ids) == 0 {
		return
	}
	log.Info("cleaning up stale worker containers", "count", len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := p.driver.Remove(gctx, id); err != nil {
				log.Error(err, "failed to delete stale container", "containerID", id)
			}
			return nil
		})
	}
	_ = g.Wait()
}
