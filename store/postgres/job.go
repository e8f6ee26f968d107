package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
)

const jobColumns = `
	id, tenant_id, owner_id, type, payload, priority, status,
	attempt, max_retries, timeout_ns, run_at, dedupe_key, metadata,
	last_error, version, created_at, updated_at, started_at, completed_at`

// orderByPriority ranks the closed priority set for dequeue ordering.
const orderByPriority = `
	CASE priority
		WHEN 'urgent' THEN 3
		WHEN 'high' THEN 2
		WHEN 'normal' THEN 1
		ELSE 0
	END DESC, created_at ASC`

// Create persists a new job.
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	metadata, err := marshalMetadata(j.Metadata)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (
			id, tenant_id, owner_id, type, payload, priority, status,
			attempt, max_retries, timeout_ns, run_at, dedupe_key, metadata,
			last_error, version, created_at, updated_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19
		)`,
		j.ID.String(), j.TenantID, j.OwnerID, string(j.Type), j.Payload,
		string(j.Priority), string(j.Status),
		j.Attempt, j.MaxRetries, j.Timeout.Nanoseconds(), j.RunAt,
		nullIfEmpty(j.DedupeKey), metadata,
		j.LastError, j.Version, j.CreatedAt, j.UpdatedAt, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: create job: %w", err)
	}
	return nil
}

// Get retrieves a job scoped to its tenant. A job belonging to a different
// tenant is indistinguishable from a missing one.
func (s *Store) Get(ctx context.Context, tenantID string, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1 AND tenant_id = $2`,
		jobID.String(), tenantID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// ListByTenant returns the tenant's jobs matching the filter, ordered by
// priority rank descending then creation time ascending.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, f job.Filter) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE tenant_id = $1`
	args := []any{tenantID}
	argIdx := 2

	if len(f.Statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, statusStrings(f.Statuses))
		argIdx++
	}
	if len(f.Types) > 0 {
		query += fmt.Sprintf(" AND type = ANY($%d)", argIdx)
		args = append(args, typeStrings(f.Types))
		argIdx++
	}
	if f.DedupeKey != "" {
		query += fmt.Sprintf(" AND dedupe_key = $%d", argIdx)
		args = append(args, f.DedupeKey)
		argIdx++
	}
	if !f.CreatedAfter.IsZero() {
		query += fmt.Sprintf(" AND created_at > $%d", argIdx)
		args = append(args, f.CreatedAfter)
		argIdx++
	}
	if !f.CreatedBefore.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, f.CreatedBefore)
		argIdx++
	}
	if !f.EligibleAt.IsZero() {
		query += fmt.Sprintf(" AND run_at <= $%d", argIdx)
		args = append(args, f.EligibleAt)
		argIdx++
	}

	query += " ORDER BY " + orderByPriority

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CompareAndTransition applies mutate to the job under a row lock iff its
// stored version equals expectedVersion, then increments the version and
// stamps UpdatedAt.
func (s *Store) CompareAndTransition(ctx context.Context, jobID id.JobID, expectedVersion int64, mutate job.Mutation) (*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1 FOR UPDATE`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: lock job: %w", err)
	}

	if j.Version != expectedVersion {
		return nil, fmt.Errorf("conveyor/postgres: job %s at version %d, expected %d: %w",
			jobID, j.Version, expectedVersion, conveyor.ErrVersionConflict)
	}

	if err := mutate(j); err != nil {
		return nil, err
	}
	j.Version++
	j.UpdatedAt = time.Now().UTC()

	metadata, err := marshalMetadata(j.Metadata)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE conveyor_jobs SET
			status = $2, attempt = $3, max_retries = $4, timeout_ns = $5,
			run_at = $6, dedupe_key = $7, metadata = $8, last_error = $9,
			version = $10, updated_at = $11, started_at = $12, completed_at = $13
		WHERE id = $1 AND version = $14`,
		j.ID.String(), string(j.Status), j.Attempt, j.MaxRetries,
		j.Timeout.Nanoseconds(), j.RunAt, nullIfEmpty(j.DedupeKey), metadata,
		j.LastError, j.Version, j.UpdatedAt, j.StartedAt, j.CompletedAt,
		expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, conveyor.ErrVersionConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: commit: %w", err)
	}
	return j, nil
}

// Delete removes a terminal job scoped to its tenant.
func (s *Store) Delete(ctx context.Context, tenantID string, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM conveyor_jobs
		WHERE id = $1 AND tenant_id = $2
		  AND status IN ('completed', 'failed', 'cancelled')`,
		jobID.String(), tenantID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a missing job from a live one.
	var status string
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM conveyor_jobs WHERE id = $1 AND tenant_id = $2`,
		jobID.String(), tenantID,
	).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return conveyor.ErrNotFound
		}
		return fmt.Errorf("conveyor/postgres: delete job: %w", err)
	}
	return fmt.Errorf("%w: delete %s job", conveyor.ErrInvalidTransition, status)
}

// ActiveTenants returns tenants with jobs awaiting dispatch, sorted.
func (s *Store) ActiveTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT tenant_id FROM conveyor_jobs
		WHERE status IN ('pending', 'queued')
		ORDER BY tenant_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate tenants: %w", err)
	}
	return tenants, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		typeStr     string
		priorityStr string
		statusStr   string
		timeoutNs   int64
		dedupe      *string
		metadata    []byte
	)
	err := row.Scan(
		&idStr, &j.TenantID, &j.OwnerID, &typeStr, &j.Payload,
		&priorityStr, &statusStr,
		&j.Attempt, &j.MaxRetries, &timeoutNs, &j.RunAt, &dedupe, &metadata,
		&j.LastError, &j.Version, &j.CreatedAt, &j.UpdatedAt,
		&j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = job.Type(typeStr)
	j.Priority = job.Priority(priorityStr)
	j.Status = job.Status(statusStr)
	j.Timeout = time.Duration(timeoutNs)
	if dedupe != nil {
		j.DedupeKey = *dedupe
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &j.Metadata); err != nil {
			return nil, fmt.Errorf("conveyor/postgres: decode metadata: %w", err)
		}
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func statusStrings(statuses []job.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func typeStrings(types []job.Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func marshalMetadata(md map[string]string) ([]byte, error) {
	if len(md) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: encode metadata: %w", err)
	}
	return data, nil
}
