// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED claim of approved runs, a partial unique index
// enforcing one open run per (playbook, customer) pair, version-checked
// run updates, and embedded SQL migrations.
package postgres
