package trafficlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS signal_logs (
    id TEXT PRIMARY KEY,
    logged_at TIMESTAMPTZ NOT NULL,
    lane TEXT NOT NULL,
    load_score INTEGER NOT NULL,
    green_seconds INTEGER NOT NULL,
    emergency BOOLEAN NOT NULL DEFAULT FALSE,
    reason TEXT NOT NULL DEFAULT '',
    hour SMALLINT NOT NULL,
    day_of_week SMALLINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signal_logs_slot ON signal_logs (day_of_week, hour);
CREATE INDEX IF NOT EXISTS idx_signal_logs_lane ON signal_logs (lane);

CREATE TABLE IF NOT EXISTS violations (
    id TEXT PRIMARY KEY,
    logged_at TIMESTAMPTZ NOT NULL,
    lane TEXT NOT NULL,
    violation_type TEXT NOT NULL,
    penalty_amount INTEGER NOT NULL,
    snapshot_path TEXT NOT NULL DEFAULT ''
);
`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL log store.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the log tables when they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// LogSignal appends a phase decision.
func (r *PostgresRepository) LogSignal(ctx context.Context, entry *SignalLog) error {
	if err := prepareSignal(entry); err != nil {
		return err
	}

	query := `
		INSERT INTO signal_logs (
			id, logged_at, lane, load_score, green_seconds, emergency, reason, hour, day_of_week
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.Lane,
		entry.LoadScore,
		entry.GreenSeconds,
		entry.Emergency,
		entry.Reason,
		entry.Hour,
		entry.DayOfWeek,
	)
	return err
}

// LogViolation appends a violation.
func (r *PostgresRepository) LogViolation(ctx context.Context, v *Violation) error {
	if err := prepareViolation(v); err != nil {
		return err
	}

	query := `
		INSERT INTO violations (
			id, logged_at, lane, violation_type, penalty_amount, snapshot_path
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		v.ID,
		v.Timestamp,
		v.Lane,
		v.Type,
		v.PenaltyAmount,
		v.SnapshotPath,
	)
	return err
}

// AverageLoad returns the mean load logged for a slot.
func (r *PostgresRepository) AverageLoad(ctx context.Context, dayOfWeek, hour int) (float64, bool, error) {
	query := `
		SELECT AVG(load_score)::float8
		FROM signal_logs
		WHERE day_of_week = $1 AND hour = $2
	`

	var avg *float64
	if err := r.pool.QueryRow(ctx, query, dayOfWeek, hour).Scan(&avg); err != nil {
		return 0, false, err
	}
	if avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}

// PeakSlots returns the busiest slots for lane.
func (r *PostgresRepository) PeakSlots(ctx context.Context, lane string, limit int) ([]PeakSlot, error) {
	query := `
		SELECT day_of_week, hour, AVG(load_score)::float8 AS avg_load
		FROM signal_logs
		WHERE lane = $1
		GROUP BY day_of_week, hour
		ORDER BY avg_load DESC, day_of_week, hour
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, lane, postgresLimit(limit))
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PeakSlot, error) {
		var s PeakSlot
		err := row.Scan(&s.DayOfWeek, &s.Hour, &s.AverageLoad)
		return s, err
	})
}

// ListSignals returns logged decisions, newest first.
func (r *PostgresRepository) ListSignals(ctx context.Context, limit int) ([]SignalLog, error) {
	query := `
		SELECT id, logged_at, lane, load_score, green_seconds, emergency, reason, hour, day_of_week
		FROM signal_logs
		ORDER BY logged_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, postgresLimit(limit))
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SignalLog, error) {
		var s SignalLog
		err := row.Scan(
			&s.ID,
			&s.Timestamp,
			&s.Lane,
			&s.LoadScore,
			&s.GreenSeconds,
			&s.Emergency,
			&s.Reason,
			&s.Hour,
			&s.DayOfWeek,
		)
		return s, err
	})
}

// ListViolations returns violations, newest first.
func (r *PostgresRepository) ListViolations(ctx context.Context, limit int) ([]Violation, error) {
	query := `
		SELECT id, logged_at, lane, violation_type, penalty_amount, snapshot_path
		FROM violations
		ORDER BY logged_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, postgresLimit(limit))
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Violation, error) {
		var v Violation
		err := row.Scan(&v.ID, &v.Timestamp, &v.Lane, &v.Type, &v.PenaltyAmount, &v.SnapshotPath)
		return v, err
	})
}

// ViolationSummary returns the violation count and total penalty.
func (r *PostgresRepository) ViolationSummary(ctx context.Context) (ViolationTotals, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(penalty_amount), 0) FROM violations`

	var totals ViolationTotals
	if err := r.pool.QueryRow(ctx, query).Scan(&totals.Count, &totals.TotalPenalty); err != nil {
		return ViolationTotals{}, err
	}
	return totals, nil
}

// AverageGreenByLane returns the mean green time per logged lane.
func (r *PostgresRepository) AverageGreenByLane(ctx context.Context) ([]LaneGreen, error) {
	query := `
		SELECT lane, AVG(green_seconds)::float8, COUNT(*)
		FROM signal_logs
		GROUP BY lane
		ORDER BY lane
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (LaneGreen, error) {
		var g LaneGreen
		err := row.Scan(&g.Lane, &g.AverageGreen, &g.Samples)
		return g, err
	})
}

// ClearViolations deletes every violation.
func (r *PostgresRepository) ClearViolations(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM violations`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Ping checks the pool.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// postgresLimit maps "no limit" to NULL, which PostgreSQL treats as LIMIT ALL.
func postgresLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
