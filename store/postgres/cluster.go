package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pulse_workers (`+workerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata`,
		w.ID, w.Hostname, w.Concurrency, string(w.State),
		w.IsLeader, w.LeaderUntil, w.LastSeen, metadata, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pulse/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry and
// releases its leadership lease if it held one.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pulse_workers WHERE id = $1`, workerID,
	)
	if err != nil {
		return fmt.Errorf("pulse/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrWorkerNotFound
	}

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM pulse_leadership WHERE worker_id = $1`, workerID,
	); err != nil {
		return fmt.Errorf("pulse/postgres: release leadership: %w", err)
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pulse_workers SET last_seen = NOW() WHERE id = $1`, workerID,
	)
	if err != nil {
		return fmt.Errorf("pulse/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pulse.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers, oldest registration first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM pulse_workers ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/postgres: list workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM pulse_workers WHERE last_seen < $1`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse/postgres: reap dead workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// AcquireLeadership attempts to take the cluster lease. The upsert only
// succeeds when the current lease is expired or already held by this
// worker, so concurrent acquirers settle on a single winner.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pulse_leadership (singleton, worker_id, lease_until)
		VALUES (TRUE, $1, NOW() + $2)
		ON CONFLICT (singleton) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			lease_until = EXCLUDED.lease_until
		WHERE pulse_leadership.lease_until < NOW()
		   OR pulse_leadership.worker_id = EXCLUDED.worker_id`,
		workerID, ttl,
	)
	if err != nil {
		return false, fmt.Errorf("pulse/postgres: acquire leadership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RenewLeadership extends the lease, but only for the worker that
// currently holds it.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pulse_leadership SET lease_until = NOW() + $2
		WHERE worker_id = $1 AND lease_until >= NOW()`,
		workerID, ttl,
	)
	if err != nil {
		return false, fmt.Errorf("pulse/postgres: renew leadership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetLeader returns the worker holding an unexpired lease, or nil when
// no lease is held or the lease holder is no longer registered.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+workerColumns+` FROM pulse_workers w
		JOIN pulse_leadership l ON l.worker_id = w.id
		WHERE l.lease_until >= NOW()`,
	)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pulse/postgres: get leader: %w", err)
	}
	w.IsLeader = true
	return w, nil
}

func collectWorkers(rows pgx.Rows) ([]*cluster.Worker, error) {
	var out []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("pulse/postgres: scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorker(row pgx.Row) (*cluster.Worker, error) {
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
