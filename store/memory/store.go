package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/audit"
	"github.com/PulseAIShared/pulse-engine/cluster"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ signal.Store   = (*Store)(nil)
	_ playbook.Store = (*Store)(nil)
	_ run.Store      = (*Store)(nil)
	_ audit.Store    = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	signals   map[string]*signal.Signal
	playbooks map[string]*playbook.Playbook
	runs      map[string]*run.Run
	audits    []*audit.Event
	workers   map[string]*cluster.Worker

	// leader tracks the current cluster leader worker ID string.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		signals:   make(map[string]*signal.Signal),
		playbooks: make(map[string]*playbook.Playbook),
		runs:      make(map[string]*run.Run),
		workers:   make(map[string]*cluster.Worker),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Signal Store
// ──────────────────────────────────────────────────

// CreateSignal persists a new normalized signal.
func (m *Store) CreateSignal(_ context.Context, sig *signal.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := copySignal(sig)
	m.signals[sig.ID.String()] = cp
	return nil
}

// GetSignal retrieves a signal by ID.
func (m *Store) GetSignal(_ context.Context, signalID id.SignalID) (*signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sig, ok := m.signals[signalID.String()]
	if !ok {
		return nil, pulse.ErrSignalNotFound
	}
	return copySignal(sig), nil
}

// ListSignals returns signals matching the given options, newest first.
func (m *Store) ListSignals(_ context.Context, opts signal.ListOpts) ([]*signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*signal.Signal, 0, len(m.signals))
	for _, sig := range m.signals {
		if opts.Type != "" && sig.Type != opts.Type {
			continue
		}
		if !opts.CustomerID.IsNil() && sig.CustomerID != opts.CustomerID {
			continue
		}
		result = append(result, copySignal(sig))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].ReceivedAt.After(result[k].ReceivedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Playbook Store
// ──────────────────────────────────────────────────

// CreatePlaybook persists a new playbook.
func (m *Store) CreatePlaybook(_ context.Context, p *playbook.Playbook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.ID.String()
	if _, exists := m.playbooks[key]; exists {
		return pulse.ErrPlaybookExists
	}
	m.playbooks[key] = copyPlaybook(p)
	return nil
}

// GetPlaybook retrieves a playbook by ID.
func (m *Store) GetPlaybook(_ context.Context, playbookID id.PlaybookID) (*playbook.Playbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.playbooks[playbookID.String()]
	if !ok {
		return nil, pulse.ErrPlaybookNotFound
	}
	return copyPlaybook(p), nil
}

// UpdatePlaybook persists changes to an existing playbook.
func (m *Store) UpdatePlaybook(_ context.Context, p *playbook.Playbook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.ID.String()
	if _, ok := m.playbooks[key]; !ok {
		return pulse.ErrPlaybookNotFound
	}
	cp := copyPlaybook(p)
	cp.UpdatedAt = time.Now().UTC()
	m.playbooks[key] = cp
	return nil
}

// ListPlaybooks returns playbooks matching the given options.
func (m *Store) ListPlaybooks(_ context.Context, opts playbook.ListOpts) ([]*playbook.Playbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*playbook.Playbook, 0, len(m.playbooks))
	for _, p := range m.playbooks {
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		if opts.TriggerType != "" && p.TriggerType != opts.TriggerType {
			continue
		}
		if opts.Category != "" && p.Category != opts.Category {
			continue
		}
		result = append(result, copyPlaybook(p))
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Run Store
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.runs[key]; exists {
		return pulse.ErrRunExists
	}
	m.runs[key] = r.Clone()
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, pulse.ErrRunNotFound
	}
	return r.Clone(), nil
}

// UpdateRun persists changes to an existing run using optimistic
// concurrency on the version counter. First writer wins.
func (m *Store) UpdateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	stored, ok := m.runs[key]
	if !ok {
		return pulse.ErrRunNotFound
	}
	if stored.Version != r.Version {
		return pulse.ErrStaleRun
	}

	cp := r.Clone()
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = cp

	// Reflect the accepted write back so the caller can keep updating
	// the same struct.
	r.Version = cp.Version
	return nil
}

// ListRuns returns runs matching the given options, newest first.
func (m *Store) ListRuns(_ context.Context, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if len(opts.States) > 0 && !containsState(opts.States, r.State) {
			continue
		}
		if !opts.PlaybookID.IsNil() && r.PlaybookID != opts.PlaybookID {
			continue
		}
		if !opts.CustomerID.IsNil() && r.CustomerID != opts.CustomerID {
			continue
		}
		if opts.Escalated != nil && r.IsEscalated() != *opts.Escalated {
			continue
		}
		result = append(result, r.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountActiveRuns returns the number of runs holding a concurrency slot
// for the playbook.
func (m *Store) CountActiveRuns(_ context.Context, playbookID id.PlaybookID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, r := range m.runs {
		if r.PlaybookID != playbookID {
			continue
		}
		if containsState(run.ActiveStates, r.State) {
			count++
		}
	}
	return count, nil
}

// LatestRunFor returns the most recently created run for the
// (playbook, customer) pair, or nil when the pair has never run.
func (m *Store) LatestRunFor(_ context.Context, playbookID id.PlaybookID, customerID id.CustomerID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *run.Run
	for _, r := range m.runs {
		if r.PlaybookID != playbookID || r.CustomerID != customerID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

// ClaimApprovedRuns atomically claims up to limit approved runs for the
// worker, oldest approvals first.
func (m *Store) ClaimApprovedRuns(_ context.Context, workerID id.WorkerID, limit int) ([]*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if r.State == run.StateApproved {
			candidates = append(candidates, r)
		}
	}

	sort.Slice(candidates, func(i, k int) bool {
		return approvedAt(candidates[i]).Before(approvedAt(candidates[k]))
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := time.Now().UTC()
	result := make([]*run.Run, len(candidates))
	for i, r := range candidates {
		r.State = run.StateExecuting
		r.WorkerID = workerID
		n := now
		r.StartedAt = &n
		hb := now
		r.HeartbeatAt = &hb
		r.Version++
		r.UpdatedAt = now
		result[i] = r.Clone()
	}

	return result, nil
}

// HeartbeatRun updates the heartbeat timestamp for an executing run.
func (m *Store) HeartbeatRun(_ context.Context, runID id.RunID, _ id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return pulse.ErrRunNotFound
	}
	now := time.Now().UTC()
	r.HeartbeatAt = &now
	return nil
}

// ReapStaleRuns returns executing runs whose last heartbeat is older
// than the given threshold.
func (m *Store) ReapStaleRuns(_ context.Context, threshold time.Duration) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*run.Run
	for _, r := range m.runs {
		if r.State != run.StateExecuting {
			continue
		}
		if r.HeartbeatAt != nil && r.HeartbeatAt.Before(cutoff) {
			stale = append(stale, r.Clone())
		}
	}
	return stale, nil
}

// ListSnoozedDue returns snoozed runs whose snooze deadline has elapsed.
func (m *Store) ListSnoozedDue(_ context.Context, now time.Time) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*run.Run
	for _, r := range m.runs {
		if r.State != run.StateSnoozed {
			continue
		}
		if r.SnoozeUntil != nil && !r.SnoozeUntil.After(now) {
			due = append(due, r.Clone())
		}
	}

	sort.Slice(due, func(i, k int) bool {
		return due[i].CreatedAt.Before(due[k].CreatedAt)
	})

	return due, nil
}

// ──────────────────────────────────────────────────
// Audit Store
// ──────────────────────────────────────────────────

// AppendAudit persists one audit event. The trail is append-only.
func (m *Store) AppendAudit(_ context.Context, evt *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.audits = append(m.audits, &cp)
	return nil
}

// ListAudit returns audit events matching the given options, newest first.
func (m *Store) ListAudit(_ context.Context, opts audit.ListOpts) ([]*audit.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*audit.Event, 0, len(m.audits))
	for _, evt := range m.audits {
		if opts.Action != "" && evt.Action != opts.Action {
			continue
		}
		if opts.Actor != "" && evt.Actor != opts.Actor {
			continue
		}
		if opts.RunID != "" && evt.RunID.String() != opts.RunID {
			continue
		}
		if opts.CustomerID != "" && evt.CustomerID.String() != opts.CustomerID {
			continue
		}
		if !opts.Since.IsZero() && evt.CreatedAt.Before(opts.Since) {
			continue
		}
		cp := *evt
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a new worker to the cluster registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[w.ID.String()] = w
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return pulse.ErrWorkerNotFound
	}
	delete(m.workers, key)
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return pulse.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		result = append(result, w)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	wKey := workerID.String()

	// If there's already a leader whose TTL hasn't expired and it's not us, fail.
	if m.leader != "" && m.leaderUntil.After(now) && m.leader != wKey {
		return false, nil
	}

	m.leader = wKey
	m.leaderUntil = now.Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		w.IsLeader = true
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wKey := workerID.String()
	if m.leader != wKey {
		return false, nil
	}

	m.leaderUntil = time.Now().UTC().Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}

	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}

	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	return w, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func containsState(states []run.State, s run.State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// approvedAt orders approved runs for claiming. Runs admitted directly
// into approved always carry ApprovedAt; fall back to CreatedAt.
func approvedAt(r *run.Run) time.Time {
	if r.ApprovedAt != nil {
		return *r.ApprovedAt
	}
	return r.CreatedAt
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func copySignal(sig *signal.Signal) *signal.Signal {
	cp := *sig
	cp.Sources = append([]string(nil), sig.Sources...)
	return &cp
}

func copyPlaybook(p *playbook.Playbook) *playbook.Playbook {
	cp := *p
	cp.Trigger.MinAmount = copyPtr(p.Trigger.MinAmount)
	cp.Trigger.MinMRR = copyPtr(p.Trigger.MinMRR)
	cp.Trigger.MinDaysInactive = copyPtr(p.Trigger.MinDaysInactive)
	cp.Trigger.MinDaysOverdue = copyPtr(p.Trigger.MinDaysOverdue)
	cp.Trigger.RequiredSources = append([]string(nil), p.Trigger.RequiredSources...)
	cp.TargetSegmentIDs = append([]id.SegmentID(nil), p.TargetSegmentIDs...)
	cp.Actions = append([]playbook.Action(nil), p.Actions...)
	return &cp
}
