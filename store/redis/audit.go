package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PulseAIShared/pulse-engine/audit"
	"github.com/PulseAIShared/pulse-engine/id"
)

// AppendAudit stores the event as a Hash and orders it in the audit
// log Sorted Set by creation time. The log is append-only.
func (s *Store) AppendAudit(ctx context.Context, ev *audit.Event) error {
	eID := ev.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, auditKey(eID), auditToMap(ev))
	pipe.ZAdd(ctx, auditLogKey, goredis.Z{
		Score:  float64(ev.CreatedAt.UnixMilli()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: append audit: %w", err)
	}
	return nil
}

// ListAudit returns audit events matching the given options, newest first.
func (s *Store) ListAudit(ctx context.Context, opts audit.ListOpts) ([]*audit.Event, error) {
	var (
		ids []string
		err error
	)
	if opts.Since.IsZero() {
		ids, err = s.client.ZRevRange(ctx, auditLogKey, 0, -1).Result()
	} else {
		ids, err = s.client.ZRevRangeByScore(ctx, auditLogKey, &goredis.ZRangeBy{
			Min: strconv.FormatInt(opts.Since.UnixMilli(), 10),
			Max: "+inf",
		}).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: list audit zrange: %w", err)
	}

	out := make([]*audit.Event, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, auditKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // skip missing
		}
		ev, convErr := mapToAuditEvent(vals)
		if convErr != nil {
			continue
		}
		if opts.Action != "" && ev.Action != opts.Action {
			continue
		}
		if opts.Actor != "" && ev.Actor != opts.Actor {
			continue
		}
		if opts.RunID != "" && ev.RunID.String() != opts.RunID {
			continue
		}
		if opts.CustomerID != "" && ev.CustomerID.String() != opts.CustomerID {
			continue
		}
		out = append(out, ev)
	}

	return paginate(out, opts.Offset, opts.Limit), nil
}

func auditToMap(ev *audit.Event) map[string]interface{} {
	return map[string]interface{}{
		"id":          ev.ID.String(),
		"action":      ev.Action,
		"resource":    ev.Resource,
		"severity":    ev.Severity,
		"outcome":     ev.Outcome,
		"actor":       ev.Actor,
		"run_id":      ev.RunID.String(),
		"playbook_id": ev.PlaybookID.String(),
		"signal_id":   ev.SignalID.String(),
		"customer_id": ev.CustomerID.String(),
		"reason":      ev.Reason,
		"metadata":    marshalJSON(ev.Metadata),
		"created_at":  ev.CreatedAt.Format(time.RFC3339Nano),
	}
}

func mapToAuditEvent(m map[string]string) (*audit.Event, error) {
	eID, err := id.Parse(m["id"])
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: parse audit id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	ev := &audit.Event{
		ID:        eID,
		Action:    m["action"],
		Resource:  m["resource"],
		Severity:  m["severity"],
		Outcome:   m["outcome"],
		Actor:     m["actor"],
		Reason:    m["reason"],
		CreatedAt: createdAt,
	}

	if v := m["run_id"]; v != "" {
		ev.RunID, _ = id.ParseRunID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["playbook_id"]; v != "" {
		ev.PlaybookID, _ = id.ParsePlaybookID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["signal_id"]; v != "" {
		ev.SignalID, _ = id.ParseSignalID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["customer_id"]; v != "" {
		ev.CustomerID, _ = id.ParseCustomerID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["metadata"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &ev.Metadata) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return ev, nil
}
