package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// CreatePlaybook stores the playbook as a Hash and tracks its ID.
func (s *Store) CreatePlaybook(ctx context.Context, p *playbook.Playbook) error {
	pID := p.ID.String()
	key := playbookKey(pID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: create playbook exists: %w", err)
	}
	if exists > 0 {
		return pulse.ErrPlaybookExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, playbookToMap(p))
	pipe.SAdd(ctx, playbookIDsKey, pID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pulse/redis: create playbook: %w", err)
	}
	return nil
}

// GetPlaybook retrieves a playbook by ID.
func (s *Store) GetPlaybook(ctx context.Context, playbookID id.PlaybookID) (*playbook.Playbook, error) {
	vals, err := s.client.HGetAll(ctx, playbookKey(playbookID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: get playbook: %w", err)
	}
	if len(vals) == 0 {
		return nil, pulse.ErrPlaybookNotFound
	}
	return mapToPlaybook(vals)
}

// UpdatePlaybook persists changes to an existing playbook.
func (s *Store) UpdatePlaybook(ctx context.Context, p *playbook.Playbook) error {
	key := playbookKey(p.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("pulse/redis: update playbook exists: %w", err)
	}
	if exists == 0 {
		return pulse.ErrPlaybookNotFound
	}

	fields := playbookToMap(p)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("pulse/redis: update playbook: %w", err)
	}
	return nil
}

// ListPlaybooks returns playbooks matching the given options.
func (s *Store) ListPlaybooks(ctx context.Context, opts playbook.ListOpts) ([]*playbook.Playbook, error) {
	ids, err := s.client.SMembers(ctx, playbookIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: list playbooks smembers: %w", err)
	}

	out := make([]*playbook.Playbook, 0, len(ids))
	for _, pID := range ids {
		vals, getErr := s.client.HGetAll(ctx, playbookKey(pID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue // skip missing
		}
		p, convErr := mapToPlaybook(vals)
		if convErr != nil {
			continue
		}
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		if opts.TriggerType != "" && p.TriggerType != opts.TriggerType {
			continue
		}
		if opts.Category != "" && p.Category != opts.Category {
			continue
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return paginate(out, opts.Offset, opts.Limit), nil
}

// paginate applies offset/limit to an already-sorted slice.
func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func playbookToMap(p *playbook.Playbook) map[string]interface{} {
	return map[string]interface{}{
		"id":                  p.ID.String(),
		"name":                p.Name,
		"category":            p.Category,
		"trigger_type":        string(p.TriggerType),
		"trigger":             marshalJSON(p.Trigger),
		"schedule":            p.Schedule,
		"min_confidence":      strconv.Itoa(int(p.MinConfidence)),
		"confidence_mode":     string(p.ConfidenceMode),
		"execution_mode":      string(p.ExecutionMode),
		"cooldown_hours":      strconv.Itoa(p.CooldownHours),
		"max_concurrent_runs": strconv.Itoa(p.MaxConcurrentRuns),
		"priority":            strconv.Itoa(p.Priority),
		"target_segment_ids":  marshalJSON(p.TargetSegmentIDs),
		"status":              string(p.Status),
		"actions":             marshalJSON(p.Actions),
		"created_at":          p.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":          p.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToPlaybook(m map[string]string) (*playbook.Playbook, error) {
	pID, err := id.ParsePlaybookID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("pulse/redis: parse playbook id: %w", err)
	}

	minConfidence, _ := strconv.Atoi(m["min_confidence"])    //nolint:errcheck // best-effort parse from trusted Redis data
	cooldownHours, _ := strconv.Atoi(m["cooldown_hours"])    //nolint:errcheck // best-effort parse from trusted Redis data
	maxConcurrent, _ := strconv.Atoi(m["max_concurrent_runs"]) //nolint:errcheck // best-effort parse from trusted Redis data
	priority, _ := strconv.Atoi(m["priority"])               //nolint:errcheck // best-effort parse from trusted Redis data

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	p := &playbook.Playbook{
		Entity: pulse.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:                pID,
		Name:              m["name"],
		Category:          m["category"],
		TriggerType:       playbook.TriggerType(m["trigger_type"]),
		Schedule:          m["schedule"],
		MinConfidence:     signal.Confidence(minConfidence),
		ConfidenceMode:    playbook.ConfidenceMode(m["confidence_mode"]),
		ExecutionMode:     playbook.ExecutionMode(m["execution_mode"]),
		CooldownHours:     cooldownHours,
		MaxConcurrentRuns: maxConcurrent,
		Priority:          priority,
		Status:            playbook.Status(m["status"]),
	}

	if err := unmarshalJSONField(m["trigger"], &p.Trigger); err != nil {
		return nil, fmt.Errorf("pulse/redis: parse playbook trigger: %w", err)
	}
	if err := unmarshalJSONField(m["target_segment_ids"], &p.TargetSegmentIDs); err != nil {
		return nil, fmt.Errorf("pulse/redis: parse playbook segments: %w", err)
	}
	if err := unmarshalJSONField(m["actions"], &p.Actions); err != nil {
		return nil, fmt.Errorf("pulse/redis: parse playbook actions: %w", err)
	}
	return p, nil
}
