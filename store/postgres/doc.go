// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: row-locked compare-and-transition, partial indexes on eligible
// jobs, embedded SQL migrations.
package postgres
