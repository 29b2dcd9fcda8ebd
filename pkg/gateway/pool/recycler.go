package pool

import (
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/logs"
)

// recycleLoop destroys busy workers whose sessions have gone quiet for longer
// than WorkerIdleTimeout. Victims are collected under the lock and destroyed
// outside it, concurrently.
func (p *Pool) recycleLoop() {
	defer p.loops.Done()
	ticker := time.NewTicker(p.opts.RecyclingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.recycleOnce()
		}
	}
}

func (p *Pool) recycleOnce() {
	ctx := logs.NewContext()
	log := klog.FromContext(ctx)
	now := time.Now()

	p.mu.Lock()
	var victims []*Worker
	for session, id := range p.sessions {
		w, ok := p.workers[id]
		if !ok || !w.idleSince(now, p.opts.WorkerIdleTimeout) {
			continue
		}
		log.Info("worker timed out, recycling",
			"worker", w.Name, "session", session, "idle", now.Sub(w.LastActive).Truncate(time.Second))
		delete(p.sessions, session)
		delete(p.workers, id)
		delete(p.idle, id)
		w.State = StateDestroying
		w.Session = ""
		victims = append(victims, w)
	}
	p.updateGauges()
	p.mu.Unlock()

	if len(victims) == 0 {
		log.V(4).Info("no timed-out workers found")
		return
	}

	var wg sync.WaitGroup
	for _, w := range victims {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			p.destroyWorker(ctx, w, "idle_timeout")
		}(w)
	}
	wg.Wait()
	p.TriggerReplenish()
}
