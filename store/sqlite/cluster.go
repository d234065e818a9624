package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/cluster"
	"github.com/PulseAIShared/pulse-engine/id"
)

const workerColumns = `
	id, hostname, concurrency, state, is_leader, leader_until,
	last_seen, metadata, created_at`

// RegisterWorker adds a worker to the cluster registry. Re-registering
// an existing worker ID refreshes its row.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	metadata, err := marshalJSON(w.Metadata)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pulse_workers (`+workerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			hostname = excluded.hostname,
			concurrency = excluded.concurrency,
			state = excluded.state,
			last_seen = excluded.last_seen,
			metadata = excluded.metadata`,
		w.ID, w.Hostname, w.Concurrency, string(w.State),
		w.IsLeader, w.LeaderUntil, w.LastSeen, metadata, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pulse/sqlite: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry and
// releases its leadership lease if it held one.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pulse_workers WHERE id = ?`, workerID,
	)
	if err != nil {
		return fmt.Errorf("pulse/sqlite: deregister worker: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pulse/sqlite: deregister worker: %w", err)
	}
	if affected == 0 {
		return pulse.ErrWorkerNotFound
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pulse_leadership WHERE worker_id = ?`, workerID,
	); err != nil {
		return fmt.Errorf("pulse/sqlite: release leadership: %w", err)
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE pulse_workers SET last_seen = ? WHERE id = ?`,
		time.Now().UTC(), workerID,
	)
	if err != nil {
		return fmt.Errorf("pulse/sqlite: heartbeat worker: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pulse/sqlite: heartbeat worker: %w", err)
	}
	if affected == 0 {
		return pulse.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers, oldest registration first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM pulse_workers ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/sqlite: list workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerColumns+` FROM pulse_workers WHERE last_seen < ?`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/sqlite: reap dead workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// AcquireLeadership attempts to take the cluster lease. The upsert only
// succeeds when the current lease is expired or already held by this
// worker.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pulse_leadership (singleton, worker_id, lease_until)
		VALUES (1, ?, ?)
		ON CONFLICT (singleton) DO UPDATE SET
			worker_id = excluded.worker_id,
			lease_until = excluded.lease_until
		WHERE pulse_leadership.lease_until < ?
		   OR pulse_leadership.worker_id = excluded.worker_id`,
		workerID, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("pulse/sqlite: acquire leadership: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pulse/sqlite: acquire leadership: %w", err)
	}
	return affected > 0, nil
}

// RenewLeadership extends the lease, but only for the worker that
// currently holds it.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pulse_leadership SET lease_until = ?
		WHERE worker_id = ? AND lease_until >= ?`,
		now.Add(ttl), workerID, now,
	)
	if err != nil {
		return false, fmt.Errorf("pulse/sqlite: renew leadership: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pulse/sqlite: renew leadership: %w", err)
	}
	return affected > 0, nil
}

// GetLeader returns the worker holding an unexpired lease, or nil when
// no lease is held or the lease holder is no longer registered.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workerColumns+` FROM pulse_workers w
		JOIN pulse_leadership l ON l.worker_id = w.id
		WHERE l.lease_until >= ?`,
		time.Now().UTC(),
	)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pulse/sqlite: get leader: %w", err)
	}
	w.IsLeader = true
	return w, nil
}

func collectWorkers(rows *sql.Rows) ([]*cluster.Worker, error) {
	var out []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("pulse/sqlite: scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorker(row rowScanner) (*cluster.Worker, error) {
	var (
		w        cluster.Worker
		state    string
		metadata []byte
	)

	err := row.Scan(
		&w.ID, &w.Hostname, &w.Concurrency, &state, &w.IsLeader,
		&w.LeaderUntil, &w.LastSeen, &metadata, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.State = cluster.WorkerState(state)
	if err := unmarshalJSON(metadata, &w.Metadata); err != nil {
		return nil, err
	}
	return &w, nil
}
