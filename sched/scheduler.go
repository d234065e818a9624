package sched

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/admit"
	"github.com/PulseAIShared/pulse-engine/cluster"
	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
)

// Emitter emits scheduler lifecycle events.
// ext.Registry satisfies this interface via EmitScheduleFired.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, p *playbook.Playbook, at time.Time)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due work.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLeaderTTL sets the TTL for leader election.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
// Playbook validation uses it to reject bad expressions before a
// scheduled playbook is activated.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler runs the time-driven pollers on a tick loop: firing
// scheduled playbooks and waking elapsed snoozes. Only the cluster
// leader executes ticks to prevent double-firing.
type Scheduler struct {
	playbooks    playbook.Store
	runs         run.Store
	machine      *run.Machine
	admitter     *admit.Admitter
	customers    customer.Catalog
	clusterStore cluster.Store
	emitter      Emitter
	workerID     id.WorkerID
	logger       *slog.Logger

	tickInterval time.Duration
	leaderTTL    time.Duration

	// parsed caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	// nextFire tracks the next due time per scheduled playbook. It is
	// leader-local; a new leader recomputes from its first tick, so a
	// leadership change skips at most one occurrence window.
	nextFire map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. emitter may be nil.
func NewScheduler(
	playbooks playbook.Store,
	runs run.Store,
	machine *run.Machine,
	admitter *admit.Admitter,
	customers customer.Catalog,
	clusterStore cluster.Store,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		playbooks:    playbooks,
		runs:         runs,
		machine:      machine,
		admitter:     admitter,
		customers:    customers,
		clusterStore: clusterStore,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		tickInterval: 1 * time.Second,
		leaderTTL:    15 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		nextFire:     make(map[string]time.Time),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the leader election and tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for goroutines to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// leaderLoop continuously attempts to acquire or renew leadership.
func (s *Scheduler) leaderLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.leaderTTL / 2)
	defer ticker.Stop()

	// Try once immediately at start.
	s.tryLeadership()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Scheduler) tryLeadership() {
	ctx := context.Background()

	// Renew first (cheap if already leader).
	renewed, err := s.clusterStore.RenewLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	acquired, err := s.clusterStore.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired scheduler leadership", slog.String("worker_id", s.workerID.String()))
	}
}

// tickLoop fires on each tick interval and processes due work.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	leader, err := s.clusterStore.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("get leader error", slog.String("error", err.Error()))
		return
	}
	if leader == nil || leader.ID.String() != s.workerID.String() {
		return // Not the leader; skip.
	}

	now := time.Now().UTC()
	s.fireDuePlaybooks(ctx, now)
	s.wakeElapsedSnoozes(ctx, now)
}

// ── Scheduled playbooks ─────────────────────────────

func (s *Scheduler) fireDuePlaybooks(ctx context.Context, now time.Time) {
	playbooks, err := s.playbooks.ListPlaybooks(ctx, playbook.ListOpts{
		Status:      playbook.StatusActive,
		TriggerType: playbook.TriggerScheduled,
	})
	if err != nil {
		s.logger.Error("list scheduled playbooks error", slog.String("error", err.Error()))
		return
	}

	for _, p := range playbooks {
		sched, parseErr := s.getOrParseSchedule(p.Schedule)
		if parseErr != nil {
			s.logger.Error("parse playbook schedule error",
				slog.String("playbook_id", p.ID.String()),
				slog.String("schedule", p.Schedule),
				slog.String("error", parseErr.Error()),
			)
			continue
		}

		key := p.ID.String()
		next, tracked := s.nextFire[key]
		if !tracked {
			// First sight of this playbook: arm it for its next
			// occurrence rather than firing immediately.
			s.nextFire[key] = sched.Next(now)
			continue
		}
		if next.After(now) {
			continue
		}

		s.firePlaybook(ctx, p, now)
		s.nextFire[key] = sched.Next(now)
	}
}

// firePlaybook expands the playbook's target segments into candidates
// and runs each through admission. Rejections are normal flow control;
// cooldown keeps a tight schedule from piling runs onto one customer.
func (s *Scheduler) firePlaybook(ctx context.Context, p *playbook.Playbook, now time.Time) {
	candidates, err := s.customers.ListCustomers(ctx, p.TargetSegmentIDs)
	if err != nil {
		s.logger.Error("list schedule candidates error",
			slog.String("playbook_id", p.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	admitted := 0
	for _, cust := range candidates {
		_, rejection, admitErr := s.admitter.Admit(ctx, p, nil, cust)
		if admitErr != nil {
			s.logger.Error("scheduled admission error",
				slog.String("playbook_id", p.ID.String()),
				slog.String("customer_id", cust.ID.String()),
				slog.String("error", admitErr.Error()),
			)
			continue
		}
		if rejection != nil {
			continue
		}
		admitted++
	}

	if s.emitter != nil {
		s.emitter.EmitScheduleFired(ctx, p, now)
	}

	s.logger.Info("schedule fired",
		slog.String("playbook_id", p.ID.String()),
		slog.Int("candidates", len(candidates)),
		slog.Int("admitted", admitted),
	)
}

// ── Snooze waker ────────────────────────────────────

func (s *Scheduler) wakeElapsedSnoozes(ctx context.Context, now time.Time) {
	due, err := s.runs.ListSnoozedDue(ctx, now)
	if err != nil {
		s.logger.Error("list due snoozes error", slog.String("error", err.Error()))
		return
	}

	for _, r := range due {
		if _, wakeErr := s.machine.Wake(ctx, r.ID); wakeErr != nil {
			// A concurrent operator action may have moved the run
			// already; that is not a fault.
			if errors.Is(wakeErr, pulse.ErrInvalidTransition) || errors.Is(wakeErr, pulse.ErrStaleRun) {
				continue
			}
			s.logger.Error("wake snoozed run error",
				slog.String("run_id", r.ID.String()),
				slog.String("error", wakeErr.Error()),
			)
		}
	}
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
