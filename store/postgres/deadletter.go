package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/deadletter"
	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
)

const deadLetterColumns = `
	id, job_id, tenant_id, owner_id, type, payload, priority, error,
	attempt, max_retries, timeout_ns, metadata, failed_at, replayed_at,
	created_at`

// PushDeadLetter archives a dead letter entry.
func (s *Store) PushDeadLetter(ctx context.Context, entry *deadletter.Entry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conveyor_dead_letters (
			id, job_id, tenant_id, owner_id, type, payload, priority, error,
			attempt, max_retries, timeout_ns, metadata, failed_at, replayed_at,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		entry.ID.String(), entry.JobID.String(), entry.TenantID, entry.OwnerID,
		string(entry.Type), entry.Payload, string(entry.Priority), entry.Error,
		entry.Attempt, entry.MaxRetries, entry.Timeout.Nanoseconds(), metadata,
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: push dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns the tenant's dead letter entries, newest first.
func (s *Store) ListDeadLetters(ctx context.Context, tenantID string, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM conveyor_dead_letters WHERE tenant_id = $1`
	args := []any{tenantID}
	argIdx := 2

	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, opts.Type)
		argIdx++
	}

	query += " ORDER BY failed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*deadletter.Entry
	for rows.Next() {
		e, scanErr := scanDeadLetter(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan dead letter row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate dead letter rows: %w", err)
	}
	return entries, nil
}

// GetDeadLetter retrieves a dead letter entry scoped to its tenant.
func (s *Store) GetDeadLetter(ctx context.Context, tenantID string, entryID id.DeadLetterID) (*deadletter.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM conveyor_dead_letters WHERE id = $1 AND tenant_id = $2`,
		entryID.String(), tenantID,
	)

	e, err := scanDeadLetter(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get dead letter: %w", err)
	}
	return e, nil
}

// ReplayDeadLetter marks a dead letter entry as replayed.
func (s *Store) ReplayDeadLetter(ctx context.Context, tenantID string, entryID id.DeadLetterID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conveyor_dead_letters SET replayed_at = NOW() WHERE id = $1 AND tenant_id = $2`,
		entryID.String(), tenantID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: replay dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrNotFound
	}
	return nil
}

// PurgeDeadLetters removes the tenant's entries that failed before the
// given time. Returns the number of entries removed.
func (s *Store) PurgeDeadLetters(ctx context.Context, tenantID string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conveyor_dead_letters WHERE tenant_id = $1 AND failed_at < $2`,
		tenantID, before,
	)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: purge dead letters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDeadLetters returns the number of entries for the tenant.
func (s *Store) CountDeadLetters(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conveyor_dead_letters WHERE tenant_id = $1`,
		tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count dead letters: %w", err)
	}
	return count, nil
}

// scanDeadLetter scans a single dead letter row.
func scanDeadLetter(row pgx.Row) (*deadletter.Entry, error) {
	var (
		e           deadletter.Entry
		idStr       string
		jobIDStr    string
		typeStr     string
		priorityStr string
		timeoutNs   int64
		metadata    []byte
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.TenantID, &e.OwnerID, &typeStr, &e.Payload,
		&priorityStr, &e.Error,
		&e.Attempt, &e.MaxRetries, &timeoutNs, &metadata,
		&e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = job.Type(typeStr)
	e.Priority = job.Priority(priorityStr)
	e.Timeout = time.Duration(timeoutNs)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("conveyor/postgres: decode metadata: %w", err)
		}
	}

	parsedID, parseErr := id.ParseDeadLetterID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse dead letter id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	parsedJobID, jobParseErr := id.ParseJobID(jobIDStr)
	if jobParseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", jobIDStr, jobParseErr)
	}
	e.JobID = parsedJobID

	return &e, nil
}
