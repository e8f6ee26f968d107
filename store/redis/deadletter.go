package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/deadletter"
	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
)

// PushDeadLetter archives a dead letter entry.
func (s *Store) PushDeadLetter(ctx context.Context, entry *deadletter.Entry) error {
	fields, err := deadLetterToMap(entry)
	if err != nil {
		return err
	}
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, deadLetterKey(eID), fields)
	pipe.ZAdd(ctx, tenantDeadLettersKey(entry.TenantID), goredis.Z{
		Score:  float64(entry.FailedAt.UnixMilli()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: push dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns the tenant's dead letter entries, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, tenantID string, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, tenantDeadLettersKey(tenantID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list dead letters: %w", err)
	}

	entries := make([]*deadletter.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getDeadLetterByKey(ctx, deadLetterKey(eID))
		if getErr != nil {
			continue // skip concurrently purged
		}
		if opts.Type != "" && string(e.Type) != opts.Type {
			continue
		}
		entries = append(entries, e)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDeadLetter retrieves a dead letter entry scoped to its tenant.
func (s *Store) GetDeadLetter(ctx context.Context, tenantID string, entryID id.DeadLetterID) (*deadletter.Entry, error) {
	e, err := s.getDeadLetterByKey(ctx, deadLetterKey(entryID.String()))
	if err != nil {
		return nil, err
	}
	if e.TenantID != tenantID {
		return nil, conveyor.ErrNotFound
	}
	return e, nil
}

// ReplayDeadLetter marks a dead letter entry as replayed.
func (s *Store) ReplayDeadLetter(ctx context.Context, tenantID string, entryID id.DeadLetterID) error {
	if _, err := s.GetDeadLetter(ctx, tenantID, entryID); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, deadLetterKey(entryID.String()), "replayed_at", now).Err(); err != nil {
		return fmt.Errorf("conveyor/redis: replay dead letter: %w", err)
	}
	return nil
}

// PurgeDeadLetters removes the tenant's entries that failed before the
// given time. Returns the number of entries removed.
func (s *Store) PurgeDeadLetters(ctx context.Context, tenantID string, before time.Time) (int64, error) {
	indexKey := tenantDeadLettersKey(tenantID)
	cutoff := strconv.FormatInt(before.UnixMilli()-1, 10)

	ids, err := s.client.ZRangeByScore(ctx, indexKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: purge range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range ids {
		pipe.Del(ctx, deadLetterKey(eID))
		pipe.ZRem(ctx, indexKey, eID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("conveyor/redis: purge dead letters: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDeadLetters returns the number of entries for the tenant.
func (s *Store) CountDeadLetters(ctx context.Context, tenantID string) (int64, error) {
	n, err := s.client.ZCard(ctx, tenantDeadLettersKey(tenantID)).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: count dead letters: %w", err)
	}
	return n, nil
}

// ── helpers ──

func deadLetterToMap(e *deadletter.Entry) (map[string]any, error) {
	m := map[string]any{
		"id":          e.ID.String(),
		"job_id":      e.JobID.String(),
		"tenant_id":   e.TenantID,
		"owner_id":    e.OwnerID,
		"type":        string(e.Type),
		"payload":     string(e.Payload),
		"priority":    string(e.Priority),
		"error":       e.Error,
		"attempt":     strconv.Itoa(e.Attempt),
		"max_retries": strconv.Itoa(e.MaxRetries),
		"timeout":     strconv.FormatInt(int64(e.Timeout), 10),
		"failed_at":   e.FailedAt.Format(time.RFC3339Nano),
		"created_at":  e.CreatedAt.Format(time.RFC3339Nano),
	}
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: encode metadata: %w", err)
		}
		m["metadata"] = string(data)
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

func (s *Store) getDeadLetterByKey(ctx context.Context, key string) (*deadletter.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get dead letter: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrNotFound
	}
	return mapToDeadLetter(vals)
}

func mapToDeadLetter(m map[string]string) (*deadletter.Entry, error) {
	eID, err := id.ParseDeadLetterID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse dead letter id: %w", err)
	}
	jID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse job id: %w", err)
	}

	attempt, _ := strconv.Atoi(m["attempt"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)          //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &deadletter.Entry{
		ID:         eID,
		JobID:      jID,
		TenantID:   m["tenant_id"],
		OwnerID:    m["owner_id"],
		Type:       job.Type(m["type"]),
		Payload:    []byte(m["payload"]),
		Priority:   job.Priority(m["priority"]),
		Error:      m["error"],
		Attempt:    attempt,
		MaxRetries: maxRetries,
		Timeout:    time.Duration(timeout),
		FailedAt:   failedAt,
		CreatedAt:  createdAt,
	}

	if raw := m["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Metadata); err != nil {
			return nil, fmt.Errorf("conveyor/redis: decode metadata: %w", err)
		}
	}
	if v := m["replayed_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.ReplayedAt = &t
		}
	}

	return e, nil
}
