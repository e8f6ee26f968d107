package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
)

// Create stores the job as a Hash and indexes it for its tenant.
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return conveyor.ErrJobAlreadyExists
	}

	fields, err := jobToMap(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, tenantJobsKey(j.TenantID), jID)
	pipe.SAdd(ctx, tenantsKey, j.TenantID)
	if !j.Status.Terminal() {
		pipe.ZAdd(ctx, tenantEligibleKey(j.TenantID), goredis.Z{
			Score:  jobScore(j.Priority, j.CreatedAt),
			Member: jID,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: create job: %w", err)
	}
	return nil
}

// Get retrieves a job scoped to its tenant. A job belonging to a different
// tenant is indistinguishable from a missing one.
func (s *Store) Get(ctx context.Context, tenantID string, jobID id.JobID) (*job.Job, error) {
	j, err := s.getJobByKey(ctx, jobKey(jobID.String()))
	if err != nil {
		return nil, err
	}
	if j.TenantID != tenantID {
		return nil, conveyor.ErrNotFound
	}
	return j, nil
}

// ListByTenant returns the tenant's jobs matching the filter, ordered by
// priority rank descending then creation time ascending.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, f job.Filter) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, tenantJobsKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip concurrently deleted
		}
		if !f.MatchStatus(j.Status) || !f.MatchType(j.Type) {
			continue
		}
		if f.DedupeKey != "" && j.DedupeKey != f.DedupeKey {
			continue
		}
		if !f.CreatedAfter.IsZero() && !j.CreatedAt.After(f.CreatedAfter) {
			continue
		}
		if !f.CreatedBefore.IsZero() && !j.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		if !f.EligibleAt.IsZero() && j.RunAt.After(f.EligibleAt) {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(a, b int) bool {
		ra, rb := jobs[a].Priority.Rank(), jobs[b].Priority.Rank()
		if ra != rb {
			return ra > rb
		}
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(jobs) {
		jobs = jobs[:f.Limit]
	}
	return jobs, nil
}

// CompareAndTransition applies mutate inside a WATCH-guarded transaction on
// the job key iff the stored version equals expectedVersion, then
// increments the version and stamps UpdatedAt. A concurrent write aborts
// with ErrVersionConflict.
func (s *Store) CompareAndTransition(ctx context.Context, jobID id.JobID, expectedVersion int64, mutate job.Mutation) (*job.Job, error) {
	key := jobKey(jobID.String())
	var updated *job.Job

	txErr := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("conveyor/redis: load job: %w", err)
		}
		if len(vals) == 0 {
			return conveyor.ErrNotFound
		}

		j, err := mapToJob(vals)
		if err != nil {
			return err
		}
		if j.Version != expectedVersion {
			return fmt.Errorf("conveyor/redis: job %s at version %d, expected %d: %w",
				jobID, j.Version, expectedVersion, conveyor.ErrVersionConflict)
		}

		if err := mutate(j); err != nil {
			return err
		}
		j.Version++
		j.UpdatedAt = time.Now().UTC()

		fields, err := jobToMap(j)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			eligible := tenantEligibleKey(j.TenantID)
			if j.Status == job.StatusPending || j.Status == job.StatusQueued {
				pipe.ZAdd(ctx, eligible, goredis.Z{
					Score:  jobScore(j.Priority, j.CreatedAt),
					Member: j.ID.String(),
				})
			} else {
				pipe.ZRem(ctx, eligible, j.ID.String())
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = j
		return nil
	}, key)

	if txErr != nil {
		if errors.Is(txErr, goredis.TxFailedErr) {
			return nil, conveyor.ErrVersionConflict
		}
		return nil, txErr
	}
	return updated, nil
}

// Delete removes a terminal job scoped to its tenant.
func (s *Store) Delete(ctx context.Context, tenantID string, jobID id.JobID) error {
	j, err := s.Get(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if !j.Terminal() {
		return fmt.Errorf("%w: delete %s job", conveyor.ErrInvalidTransition, j.Status)
	}

	jID := jobID.String()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, tenantJobsKey(tenantID), jID)
	pipe.ZRem(ctx, tenantEligibleKey(tenantID), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: delete job: %w", err)
	}
	return nil
}

// ActiveTenants returns tenants with jobs awaiting dispatch, sorted.
func (s *Store) ActiveTenants(ctx context.Context) ([]string, error) {
	all, err := s.client.SMembers(ctx, tenantsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: active tenants smembers: %w", err)
	}

	var active []string
	for _, tenantID := range all {
		n, err := s.client.ZCard(ctx, tenantEligibleKey(tenantID)).Result()
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: active tenants zcard: %w", err)
		}
		if n > 0 {
			active = append(active, tenantID)
		}
	}
	sort.Strings(active)
	return active, nil
}

// ── helpers ──

// jobScore computes a sorted-set score from priority and creation time.
// Lower score = dequeued first; priority is negated so higher priorities
// sort ahead, with a fractional time component for FIFO within a priority.
func jobScore(p job.Priority, createdAt time.Time) float64 {
	return float64(-p.Rank()) + float64(createdAt.UnixMilli())/1e15
}

func jobToMap(j *job.Job) (map[string]any, error) {
	m := map[string]any{
		"id":          j.ID.String(),
		"tenant_id":   j.TenantID,
		"owner_id":    j.OwnerID,
		"type":        string(j.Type),
		"payload":     string(j.Payload),
		"priority":    string(j.Priority),
		"status":      string(j.Status),
		"attempt":     strconv.Itoa(j.Attempt),
		"max_retries": strconv.Itoa(j.MaxRetries),
		"timeout":     strconv.FormatInt(int64(j.Timeout), 10),
		"run_at":      j.RunAt.Format(time.RFC3339Nano),
		"dedupe_key":  j.DedupeKey,
		"last_error":  j.LastError,
		"version":     strconv.FormatInt(j.Version, 10),
		"created_at":  j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if len(j.Metadata) > 0 {
		data, err := json.Marshal(j.Metadata)
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: encode metadata: %w", err)
		}
		m["metadata"] = string(data)
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return m, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse job id: %w", err)
	}

	attempt, _ := strconv.Atoi(m["attempt"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])             //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)        //nolint:errcheck // best-effort parse from trusted Redis data
	version, _ := strconv.ParseInt(m["version"], 10, 64)        //nolint:errcheck // best-effort parse from trusted Redis data
	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])       //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:         jID,
		TenantID:   m["tenant_id"],
		OwnerID:    m["owner_id"],
		Type:       job.Type(m["type"]),
		Payload:    []byte(m["payload"]),
		Priority:   job.Priority(m["priority"]),
		Status:     job.Status(m["status"]),
		Attempt:    attempt,
		MaxRetries: maxRetries,
		Timeout:    time.Duration(timeout),
		RunAt:      runAt,
		DedupeKey:  m["dedupe_key"],
		LastError:  m["last_error"],
		Version:    version,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}

	if raw := m["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &j.Metadata); err != nil {
			return nil, fmt.Errorf("conveyor/redis: decode metadata: %w", err)
		}
	}
	if v := m["started_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			j.StartedAt = &t
		}
	}
	if v := m["completed_at"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			j.CompletedAt = &t
		}
	}

	return j, nil
}
