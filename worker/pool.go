package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/PulseAIShared/pulse-engine/backoff"
	"github.com/PulseAIShared/pulse-engine/cluster"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/run"
)

// Pool manages a set of concurrent worker goroutines that claim
// approved runs from the store and execute them through the Executor.
type Pool struct {
	store    run.Store
	executor *Executor
	workerID id.WorkerID
	logger   *slog.Logger

	concurrency  int
	pollInitial  time.Duration
	pollMax      time.Duration

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	staleRunThreshold time.Duration

	// Cluster registry (optional).
	cluster cluster.Store

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeRuns map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets the idle poll pacing: workers start at initial
// and back off toward maxWait while no approved runs appear.
func WithPollInterval(initial, maxWait time.Duration) PoolOption {
	return func(p *Pool) {
		p.pollInitial = initial
		p.pollMax = maxWait
	}
}

// WithHeartbeatInterval sets how often the pool heartbeats its active
// runs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleRunThreshold sets the threshold after which executing runs
// without a heartbeat are returned to approved for reclaiming. A zero
// value disables the reaper.
func WithStaleRunThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleRunThreshold = d }
}

// WithClusterStore registers the pool in the cluster worker registry
// and heartbeats its liveness there.
func WithClusterStore(cs cluster.Store) PoolOption {
	return func(p *Pool) { p.cluster = cs }
}

// NewPool creates a worker pool.
func NewPool(
	store run.Store,
	executor *Executor,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:       store,
		executor:    executor,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		concurrency: 8,
		pollInitial: 250 * time.Millisecond,
		pollMax:     5 * time.Second,
		stopCh:      make(chan struct{}),
		activeRuns:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	if p.cluster != nil {
		hostname, _ := os.Hostname()
		w := &cluster.Worker{
			ID:          p.workerID,
			Hostname:    hostname,
			Concurrency: p.concurrency,
			State:       cluster.WorkerActive,
		}
		if err := p.cluster.RegisterWorker(ctx, w); err != nil {
			p.logger.Warn("cluster registration failed",
				slog.String("worker_id", p.workerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	// Launch heartbeat goroutine if configured.
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	// Launch reaper goroutine if configured.
	if p.staleRunThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish. If the
// context has a deadline, active runs are cancelled when time runs out;
// a cancelled run fails at its current action and stays resumable.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Signal all workers to stop.
	close(p.stopCh)

	// Wait for completion or context deadline.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active runs")
		p.cancelActiveRuns()
		p.wg.Wait()
	}

	if p.cluster != nil {
		if err := p.cluster.DeregisterWorker(context.Background(), p.workerID); err != nil {
			p.logger.Warn("cluster deregistration failed",
				slog.String("worker_id", p.workerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	idle := backoff.NewIdle(p.pollInitial, p.pollMax)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		runs, err := p.store.ClaimApprovedRuns(context.Background(), p.workerID, 1)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep(idle.Next())
			continue
		}

		if len(runs) == 0 {
			p.sleep(idle.Next())
			continue
		}
		idle.Reset()

		r := runs[0]

		ctx, cancel := context.WithCancel(context.Background())
		p.trackRun(r.ID.String(), cancel)

		if execErr := p.executor.Execute(ctx, r); execErr != nil {
			p.logger.Debug("run execution failed",
				slog.String("run_id", r.ID.String()),
				slog.String("playbook_id", r.PlaybookID.String()),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackRun(r.ID.String())
		cancel()
	}
}

// heartbeatLoop periodically heartbeats all active runs so the reaper
// on other nodes leaves them alone.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	runIDs := make([]string, 0, len(p.activeRuns))
	for runID := range p.activeRuns {
		runIDs = append(runIDs, runID)
	}
	p.activeMu.Unlock()

	for _, runIDStr := range runIDs {
		parsedID, parseErr := id.ParseRunID(runIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid run id", slog.String("run_id", runIDStr))
			continue
		}
		if err := p.store.HeartbeatRun(context.Background(), parsedID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("run_id", runIDStr),
				slog.String("error", err.Error()),
			)
		}
	}

	if p.cluster != nil {
		if err := p.cluster.HeartbeatWorker(context.Background(), p.workerID); err != nil {
			p.logger.Warn("worker heartbeat failed",
				slog.String("worker_id", p.workerID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically returns orphaned executing runs to approved.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleRunThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleRuns()
		}
	}
}

func (p *Pool) reapStaleRuns() {
	stale, err := p.store.ReapStaleRuns(context.Background(), p.staleRunThreshold)
	if err != nil {
		p.logger.Error("reap stale runs error", slog.String("error", err.Error()))
		return
	}

	for _, r := range stale {
		// Back to approved so another worker claims it. Executed
		// actions stay recorded, so the new claim resumes where the
		// dead worker stopped.
		r.State = run.StateApproved
		r.WorkerID = id.Nil
		r.HeartbeatAt = nil
		r.StartedAt = nil
		r.Touch()

		if updateErr := p.store.UpdateRun(context.Background(), r); updateErr != nil {
			p.logger.Error("reap: failed to release stale run",
				slog.String("run_id", r.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}

		p.logger.Info("reaped stale run",
			slog.String("run_id", r.ID.String()),
			slog.String("playbook_id", r.PlaybookID.String()),
		)
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-p.stopCh:
	}
}

func (p *Pool) trackRun(runID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeRuns[runID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackRun(runID string) {
	p.activeMu.Lock()
	delete(p.activeRuns, runID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveRuns() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for runID, cancel := range p.activeRuns {
		p.logger.Warn("cancelling active run", slog.String("run_id", runID))
		cancel()
	}
}
