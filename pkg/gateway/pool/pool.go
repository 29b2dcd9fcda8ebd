// Package pool owns the lifecycle of all sandbox containers: creation,
// health gating, session binding, recycling and destruction.
//
// Locking discipline: one mutex guards the three indexes (registry, session
// map, idle set) and the initializing/replenishing flags. Registry mutations
// happen under the lock; engine calls, health probes and HTTP forwarding
// never do. A counting semaphore sized MaxTotalWorkers separately bounds
// total creations so racing creators cannot overshoot capacity.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/gateway/config"
	"github.com/openinterp/code-interpreter/pkg/gateway/driver"
	"github.com/openinterp/code-interpreter/pkg/gateway/errors"
	"github.com/openinterp/code-interpreter/pkg/gateway/metrics"
	"github.com/openinterp/code-interpreter/pkg/gateway/probe"
	"github.com/openinterp/code-interpreter/pkg/logs"
)

const workerPort = 8000

type Pool struct {
	opts   config.Options
	driver driver.Driver
	prober probe.Prober

	mu           sync.Mutex
	workers      map[string]*Worker  // container ID -> worker
	sessions     map[string]string   // session ID -> container ID
	idle         map[string]struct{} // container IDs in state Idle
	initializing bool
	replenishing bool

	createSem *semaphore.Weighted

	stopped atomic.Bool
	stopCh  chan struct{}
	loops   sync.WaitGroup
}

func New(opts config.Options, d driver.Driver, p probe.Prober) *Pool {
	return &Pool{
		opts:         opts,
		driver:       d,
		prober:       p,
		workers:      make(map[string]*Worker),
		sessions:     make(map[string]string),
		idle:         make(map[string]struct{}),
		initializing: true,
		createSem:    semaphore.NewWeighted(int64(opts.MaxTotalWorkers)),
		stopCh:       make(chan struct{}),
	}
}

// Run deletes stale containers left over from a previous gateway run, runs
// the first replenish pass and starts the background recycler. The pool
// rejects Acquire with Initializing until the first pass completes.
func (p *Pool) Run(ctx context.Context) error {
	log := klog.FromContext(ctx)
	log.Info("initializing worker pool")
	p.cleanupStale(ctx)
	p.replenish(ctx)

	p.mu.Lock()
	p.initializing = false
	idleCount := len(p.idle)
	p.mu.Unlock()
	log.Info("worker pool initialized", "idle", idleCount)

	p.loops.Add(1)
	go p.recycleLoop()
	return nil
}

// Stop waits for all background work (the recycler, replenish passes and
// detached destroys), then destroys every remaining worker concurrently. No
// pool goroutine survives Stop, so the engine client can be closed right
// after it returns.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped.Load() {
		p.mu.Unlock()
		return
	}
	p.stopped.Store(true)
	p.mu.Unlock()
	close(p.stopCh)
	p.loops.Wait()

	ctx := logs.NewContext()
	p.mu.Lock()
	victims := make([]*Worker, 0, len(p.workers))
	for id, w := range p.workers {
		w.State = StateDestroying
		victims = append(victims, w)
		delete(p.workers, id)
		delete(p.idle, id)
	}
	p.sessions = make(map[string]string)
	p.updateGauges()
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range victims {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			p.destroyWorker(ctx, w, "shutdown")
		}(w)
	}
	wg.Wait()
}

// Acquire returns a busy worker bound to session, reusing the existing
// binding or an idle worker, or creating one just in time when the pool has
// room. Selection from the idle set and insertion into the session map are
// a single critical section.
func (p *Pool) Acquire(ctx context.Context, session string) (Worker, error) {
	log := klog.FromContext(ctx)
	if p.stopped.Load() {
		return Worker{}, errors.NewError(errors.ErrorInitializing, "gateway is shutting down")
	}

	p.mu.Lock()
	if p.initializing {
		p.mu.Unlock()
		return Worker{}, errors.NewError(errors.ErrorInitializing, "worker pool is initializing, try again shortly")
	}
	if id, ok := p.sessions[session]; ok {
		w := p.workers[id]
		w.LastActive = time.Now()
		snapshot := *w
		p.mu.Unlock()
		log.V(4).Info("reusing bound worker", "worker", snapshot.Name, "session", session)
		return snapshot, nil
	}
	for id := range p.idle {
		w := p.workers[id]
		delete(p.idle, id)
		p.bindLocked(w, session)
		snapshot := *w
		p.updateGauges()
		p.mu.Unlock()
		log.Info("assigned idle worker", "worker", snapshot.Name, "session", session)
		p.TriggerReplenish()
		return snapshot, nil
	}
	p.mu.Unlock()

	// Idle set is empty: create synchronously outside the lock.
	log.Info("no idle workers available, creating one for the request", "session", session)
	w, err := p.createWorker(ctx)
	if err != nil {
		return Worker{}, err
	}

	p.mu.Lock()
	p.workers[w.ContainerID] = w
	if _, bound := p.sessions[session]; bound {
		// A concurrent request bound this session first; keep the new worker
		// as idle capacity instead of double-binding the session.
		w.State = StateIdle
		p.idle[w.ContainerID] = struct{}{}
		id := p.sessions[session]
		existing := p.workers[id]
		existing.LastActive = time.Now()
		snapshot := *existing
		p.updateGauges()
		p.mu.Unlock()
		return snapshot, nil
	}
	p.bindLocked(w, session)
	snapshot := *w
	p.updateGauges()
	p.mu.Unlock()
	log.Info("assigned newly created worker", "worker", snapshot.Name, "session", session)
	return snapshot, nil
}

// Release unbinds the session and destroys its worker. Releasing an unknown
// session is a no-op.
func (p *Pool) Release(ctx context.Context, session string) {
	p.removeAndDestroy(ctx, session, "release")
}

// RecordFailure marks the worker bound to session as contaminated and
// destroys it. Workers are cattle: a failed worker is never reused.
func (p *Pool) RecordFailure(ctx context.Context, session string) {
	p.removeAndDestroy(ctx, session, "failure")
}

// Touch refreshes the last-activity timestamp after a successful reply.
func (p *Pool) Touch(session string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.sessions[session]; ok {
		if w, ok := p.workers[id]; ok {
			w.LastActive = time.Now()
		}
	}
}

func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		TotalWorkers:   len(p.workers),
		BusyWorkers:    len(p.sessions),
		IdleWorkers:    len(p.idle),
		IsInitializing: p.initializing,
	}
}

func (p *Pool) removeAndDestroy(ctx context.Context, session, reason string) {
	log := klog.FromContext(ctx)
	p.mu.Lock()
	if p.stopped.Load() {
		// Shutdown owns the registry sweep now.
		p.mu.Unlock()
		return
	}
	id, ok := p.sessions[session]
	if !ok {
		p.mu.Unlock()
		log.V(4).Info("no worker bound to session, nothing to destroy", "session", session)
		return
	}
	delete(p.sessions, session)
	w := p.workers[id]
	delete(p.workers, id)
	delete(p.idle, id)
	w.State = StateDestroying
	w.Session = ""
	p.updateGauges()
	p.loops.Add(1)
	p.mu.Unlock()

	log.Info("unbinding session and destroying worker", "worker", w.Name, "session", session, "reason", reason)
	go func() {
		defer p.loops.Done()
		p.destroyWorker(logs.NewContext("worker", w.Name), w, reason)
		p.TriggerReplenish()
	}()
}

func (p *Pool) bindLocked(w *Worker, session string) {
	w.State = StateBusy
	w.Session = session
	w.LastActive = time.Now()
	p.sessions[session] = w.ContainerID
}

// createWorker creates, starts and health-gates one container. The caller
// inserts the returned worker into the registry. A creation permit is held
// from before the engine call until the worker is destroyed.
func (p *Pool) createWorker(ctx context.Context) (*Worker, error) {
	log := klog.FromContext(ctx)
	if !p.createSem.TryAcquire(1) {
		return nil, errors.NewError(errors.ErrorNoCapacity, "worker pool is at capacity")
	}

	start := time.Now()
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), uint64(p.opts.MaxCreationRetries)), ctx)

	var created *Worker
	err := backoff.Retry(func() error {
		if p.stopped.Load() {
			return backoff.Permanent(fmt.Errorf("pool is shutting down"))
		}
		w, attemptErr := p.createOnce(ctx)
		if attemptErr != nil {
			if !driver.IsRetryable(attemptErr) {
				return backoff.Permanent(attemptErr)
			}
			log.Error(attemptErr, "worker creation attempt failed, will retry")
			return attemptErr
		}
		created = w
		return nil
	}, policy)
	if err != nil {
		p.createSem.Release(1)
		metrics.WorkerCreationResponses.WithLabelValues("failure").Inc()
		return nil, errors.Newf(errors.ErrorCreationFailed, "could not create a new worker: %v", err)
	}

	metrics.WorkerCreationResponses.WithLabelValues("success").Inc()
	metrics.WorkerCreationLatency.Observe(float64(time.Since(start).Milliseconds()))
	log.Info("worker created and healthy", "worker", created.Name, "cost", time.Since(start))
	return created, nil
}

func (p *Pool) createOnce(ctx context.Context) (*Worker, error) {
	name := fmt.Sprintf("code-worker-%.12s", uuid.NewString())
	opts := driver.CreateOptions{
		Image:   p.opts.WorkerImage,
		Name:    name,
		Network: p.opts.InternalNetworkName,
		Labels: map[string]string{
			"created-at": fmt.Sprintf("%d", time.Now().Unix()),
		},
		MemoryBytes: p.opts.WorkerMemoryBytes,
		CPUShares:   p.opts.WorkerCPUShares,
	}
	if p.opts.WorkerDiskMB > 0 {
		opts.Env = append(opts.Env, fmt.Sprintf("%s=%d", config.DiskLimitEnvVar, p.opts.WorkerDiskMB))
	}

	id, err := p.driver.Create(ctx, opts)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		ContainerID: id,
		Name:        name,
		InternalURL: fmt.Sprintf("http://%s:%d", name, workerPort),
		State:       StateCreating,
		CreatedAt:   time.Now(),
		LastActive:  time.Now(),
	}
	if err := p.driver.Start(ctx, id); err != nil {
		p.cleanupFailedCreate(ctx, id)
		return nil, &driver.CreateError{Retryable: true, Err: err}
	}
	if err := p.prober.WaitHealthy(ctx, w.InternalURL); err != nil {
		p.cleanupFailedCreate(ctx, id)
		return nil, &driver.CreateError{Retryable: true, Err: fmt.Errorf("health probe failed: %w", err)}
	}
	w.State = StateIdle
	return w, nil
}

func (p *Pool) cleanupFailedCreate(ctx context.Context, containerID string) {
	if err := p.driver.Remove(ctx, containerID); err != nil {
		klog.FromContext(ctx).Error(err, "failed to clean up container after failed creation", "containerID", containerID)
	}
}

// destroyWorker deletes the container and returns its creation permit.
func (p *Pool) destroyWorker(ctx context.Context, w *Worker, reason string) {
	log := klog.FromContext(ctx)
	if err := p.driver.Remove(ctx, w.ContainerID); err != nil {
		log.Error(err, "failed to delete worker container", "worker", w.Name)
	} else {
		log.Info("worker destroyed", "worker", w.Name, "reason", reason)
	}
	p.createSem.Release(1)
	metrics.WorkersDestroyed.WithLabelValues(reason).Inc()
}

// updateGauges must be called with the mutex held.
func (p *Pool) updateGauges() {
	metrics.PoolWorkers.WithLabelValues("idle").Set(float64(len(p.idle)))
	metrics.PoolWorkers.WithLabelValues("busy").Set(float64(len(p.sessions)))
}
