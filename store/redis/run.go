package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/run"
)

// casUpdateScript applies a hash update only when the stored version
// matches the expected one. Returns the new version, -1 on version
// mismatch, -2 when the key is missing.
var casUpdateScript = goredis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then return -2 end
if v ~= ARGV[1] then return -1 end
local newv = tonumber(v) + 1
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('HSET', KEYS[1], 'version', newv)
return newv
`)

// CreateRun stores the run as a Hash. The open-run guard key rejects a
// second open run for the same (playbook, customer) pair.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	rID := r.ID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: create run exists: %w", err)
	}
	if exists > 0 {
		return pulse.ErrRunExists
	}

	if activeState(r.State) {
		guard := openRunKey(r.PlaybookID.String(), r.CustomerID.String())
		ok, err := s.client.SetNX(ctx, guard, rID, 0).Result()
		if err != nil {
			return fmt.Errorf("pulse/redis: create run guard: %w", err)
		}
		if !ok {
			return pulse.ErrOpenRunExists
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, runToMap(r))
	pipe.SAdd(ctx, runIDsKey, rID)
	if r.State == run.StateApproved {
		pipe.ZAdd(ctx, approvedKey, goredis.Z{Score: approvedScore(r), Member: rID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	return s.getRunByKey(ctx, runKey(runID.String()))
}

// UpdateRun persists changes to an existing run using optimistic
// concurrency on the version counter. First writer wins.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	rID := r.ID.String()
	key := runKey(rID)

	fields := runToMap(r)
	delete(fields, "version")
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	args := make([]interface{}, 0, 1+2*len(fields))
	args = append(args, strconv.FormatInt(r.Version, 10))
	for f, v := range fields {
		args = append(args, f, v)
	}

	res, err := casUpdateScript.Run(ctx, s.client, []string{key}, args...).Int64()
	if err != nil {
		return fmt.Errorf("pulse/redis: update run: %w", err)
	}
	switch res {
	case -2:
		return pulse.ErrRunNotFound
	case -1:
		return pulse.ErrStaleRun
	}

	// Reflect the accepted write back so the caller can keep updating
	// the same struct.
	r.Version = res

	// Keep the secondary indexes in step with the new state.
	pipe := s.client.TxPipeline()
	if r.State == run.StateApproved {
		pipe.ZAdd(ctx, approvedKey, goredis.Z{Score: approvedScore(r), Member: rID})
	} else {
		pipe.ZRem(ctx, approvedKey, rID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: update run indexes: %w", err)
	}

	guard := openRunKey(r.PlaybookID.String(), r.CustomerID.String())
	if activeState(r.State) {
		// Re-entering an open state (e.g. a retry) reclaims the guard.
		if err := s.client.Set(ctx, guard, rID, 0).Err(); err != nil {
			s.logger.Warn("failed to set open-run guard", "run_id", r.ID, "error", err)
		}
	} else {
		s.releaseOpenGuard(ctx, r)
	}
	return nil
}

// releaseOpenGuard drops the open-run key when this run still owns it.
func (s *Store) releaseOpenGuard(ctx context.Context, r *run.Run) {
	guard := openRunKey(r.PlaybookID.String(), r.CustomerID.String())
	holder, err := s.client.Get(ctx, guard).Result()
	if err != nil || holder != r.ID.String() {
		return
	}
	if err := s.client.Del(ctx, guard).Err(); err != nil {
		s.logger.Warn("failed to release open-run guard", "run_id", r.ID, "error", err)
	}
}

func activeState(st run.State) bool {
	return st == run.StatePending || st == run.StateApproved || st == run.StateExecuting
}

// approvedScore orders the approved queue by approval time (FIFO).
func approvedScore(r *run.Run) float64 {
	at := r.CreatedAt
	if r.ApprovedAt != nil {
		at = *r.ApprovedAt
	}
	return float64(at.UnixMilli())
}

// ListRuns returns runs matching the given options, newest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	runs, err := s.scanRuns(ctx, func(r *run.Run) bool {
		if len(opts.States) > 0 && !containsState(opts.States, r.State) {
			return false
		}
		if !opts.PlaybookID.IsNil() && r.PlaybookID != opts.PlaybookID {
			return false
		}
		if !opts.CustomerID.IsNil() && r.CustomerID != opts.CustomerID {
			return false
		}
		if opts.Escalated != nil && *opts.Escalated != (r.EscalatedAt != nil) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return paginate(runs, opts.Offset, opts.Limit), nil
}

// CountActiveRuns returns the number of runs for the playbook whose
// state consumes a concurrency slot.
func (s *Store) CountActiveRuns(ctx context.Context, playbookID id.PlaybookID) (int64, error) {
	runs, err := s.scanRuns(ctx, func(r *run.Run) bool {
		return r.PlaybookID == playbookID && activeState(r.State)
	})
	if err != nil {
		return 0, err
	}
	return int64(len(runs)), nil
}

// LatestRunFor returns the most recently created run for the
// (playbook, customer) pair, or nil when the pair has never run.
func (s *Store) LatestRunFor(ctx context.Context, playbookID id.PlaybookID, customerID id.CustomerID) (*run.Run, error) {
	runs, err := s.scanRuns(ctx, func(r *run.Run) bool {
		return r.PlaybookID == playbookID && r.CustomerID == customerID
	})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}

	latest := runs[0]
	for _, r := range runs[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, nil
}

// ClaimApprovedRuns atomically pops up to limit runs from the approved
// queue and marks them executing under the worker's ID.
func (s *Store) ClaimApprovedRuns(ctx context.Context, workerID id.WorkerID, limit int) ([]*run.Run, error) {
	members, err := s.client.ZPopMin(ctx, approvedKey, int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: claim zpopmin: %w", err)
	}

	now := time.Now().UTC()
	var runs []*run.Run
	for _, z := range members {
		rID, ok := z.Member.(string)
		if !ok {
			continue
		}
		key := runKey(rID)

		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, key,
			"state", string(run.StateExecuting),
			"worker_id", workerID.String(),
			"started_at", now.Format(time.RFC3339Nano),
			"heartbeat_at", now.Format(time.RFC3339Nano),
			"updated_at", now.Format(time.RFC3339Nano),
		)
		pipe.HIncrBy(ctx, key, "version", 1)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return nil, fmt.Errorf("pulse/redis: claim update: %w", pErr)
		}

		r, getErr := s.getRunByKey(ctx, key)
		if getErr != nil {
			return nil, getErr
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// HeartbeatRun updates the heartbeat timestamp for an executing run.
func (s *Store) HeartbeatRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error {
	key := runKey(runID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return pulse.ErrRunNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"updated_at", now,
	).Result(); err != nil {
		return fmt.Errorf("pulse/redis: heartbeat run: %w", err)
	}
	return nil
}

// ReapStaleRuns returns executing runs whose last heartbeat is older
// than the threshold.
func (s *Store) ReapStaleRuns(ctx context.Context, threshold time.Duration) ([]*run.Run, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	return s.scanRuns(ctx, func(r *run.Run) bool {
		return r.State == run.StateExecuting &&
			r.HeartbeatAt != nil && r.HeartbeatAt.Before(cutoff)
	})
}

// ListSnoozedDue returns snoozed runs whose snooze deadline has elapsed,
// oldest first.
func (s *Store) ListSnoozedDue(ctx context.Context, now time.Time) ([]*run.Run, error) {
	runs, err := s.scanRuns(ctx, func(r *run.Run) bool {
		return r.State == run.StateSnoozed &&
			r.SnoozeUntil != nil && !r.SnoozeUntil.After(now)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// ── helpers ──

func containsState(states []run.State, st run.State) bool {
	for _, s := range states {
		if s == st {
			return true
		}
	}
	return false
}

// scanRuns loads every run and keeps the ones the filter accepts.
func (s *Store) scanRuns(ctx context.Context, keep func(*run.Run) bool) ([]*run.Run, error) {
	ids, err := s.client.SMembers(ctx, runIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: scan runs smembers: %w", err)
	}

	var out []*run.Run
	for _, rID := range ids {
		r, getErr := s.getRunByKey(ctx, runKey(rID))
		if getErr != nil {
			continue // skip missing
		}
		if keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) getRunByKey(ctx context.Context, key string) (*run.Run, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: get run: %w", err)
	}
	if len(vals) == 0 {
		return nil, pulse.ErrRunNotFound
	}
	return mapToRun(vals)
}

func runToMap(r *run.Run) map[string]interface{} {
	return map[string]interface{}{
		"id":                  r.ID.String(),
		"playbook_id":         r.PlaybookID.String(),
		"customer_id":         r.CustomerID.String(),
		"signal_id":           r.SignalID.String(),
		"state":               string(r.State),
		"prior_state":         string(r.PriorState),
		"executed_action_ids": marshalJSON(r.ExecutedActionIDs),
		"failed_action_id":    r.FailedActionID.String(),
		"error_details":       r.ErrorDetails,
		"dismissal_reason":    r.DismissalReason,
		"escalation_reason":   r.EscalationReason,
		"escalated_at":        optTime(r.EscalatedAt),
		"snooze_until":        optTime(r.SnoozeUntil),
		"approved_at":         optTime(r.ApprovedAt),
		"started_at":          optTime(r.StartedAt),
		"completed_at":        optTime(r.CompletedAt),
		"dismissed_at":        optTime(r.DismissedAt),
		"potential_value":     strconv.FormatInt(r.PotentialValue, 10),
		"currency":            r.Currency,
		"worker_id":           r.WorkerID.String(),
		"heartbeat_at":        optTime(r.HeartbeatAt),
		"version":             strconv.FormatInt(r.Version, 10),
		"created_at":          r.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":          r.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// optTime renders a nullable timestamp. The empty string stands for
// NULL so cleared fields overwrite their previous hash value.
func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseOptTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func mapToRun(m map[string]string) (*run.Run, error) {
	rID, err := id.ParseRunID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: parse run id: %w", err)
	}

	potentialValue, _ := strconv.ParseInt(m["potential_value"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	version, _ := strconv.ParseInt(m["version"], 10, 64)                //nolint:errcheck // best-effort parse from trusted Redis data

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	r := &run.Run{
		Entity: pulse.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:               rID,
		State:            run.State(m["state"]),
		PriorState:       run.State(m["prior_state"]),
		ErrorDetails:     m["error_details"],
		DismissalReason:  m["dismissal_reason"],
		EscalationReason: m["escalation_reason"],
		EscalatedAt:      parseOptTime(m["escalated_at"]),
		SnoozeUntil:      parseOptTime(m["snooze_until"]),
		ApprovedAt:       parseOptTime(m["approved_at"]),
		StartedAt:        parseOptTime(m["started_at"]),
		CompletedAt:      parseOptTime(m["completed_at"]),
		DismissedAt:      parseOptTime(m["dismissed_at"]),
		PotentialValue:   potentialValue,
		Currency:         m["currency"],
		HeartbeatAt:      parseOptTime(m["heartbeat_at"]),
		Version:          version,
	}

	if v := m["playbook_id"]; v != "" {
		r.PlaybookID, _ = id.ParsePlaybookID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["customer_id"]; v != "" {
		r.CustomerID, _ = id.ParseCustomerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["signal_id"]; v != "" {
		r.SignalID, _ = id.ParseSignalID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["failed_action_id"]; v != "" {
		r.FailedActionID, _ = id.ParseActionID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["worker_id"]; v != "" {
		r.WorkerID, _ = id.ParseWorkerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["executed_action_ids"]; v != "" && v != "null" {
		if uErr := unmarshalJSONField(v, &r.ExecutedActionIDs); uErr != nil {
			return nil, fmt.Errorf("pulse/redis: parse executed action ids: %w", uErr)
		}
	}
	return r, nil
}
