package trafficlog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/junctionflow/junctionflow/internal/trafficlog/migrations"
)

// SQLiteRepository is a SQLite implementation of Repository.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// OpenSQLite opens the SQLite log store at path and applies embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrNotConfigured)
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Close closes the SQLite handle.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// LogSignal appends a phase decision.
func (r *SQLiteRepository) LogSignal(ctx context.Context, entry *SignalLog) error {
	if err := prepareSignal(entry); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signal_logs (
		   id, logged_at, lane, load_score, green_seconds, emergency, reason, hour, day_of_week
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		toMillis(entry.Timestamp),
		entry.Lane,
		entry.LoadScore,
		entry.GreenSeconds,
		entry.Emergency,
		entry.Reason,
		entry.Hour,
		entry.DayOfWeek,
	)
	if err != nil {
		return fmt.Errorf("insert signal log: %w", err)
	}
	return nil
}

// LogViolation appends a violation.
func (r *SQLiteRepository) LogViolation(ctx context.Context, v *Violation) error {
	if err := prepareViolation(v); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO violations (
		   id, logged_at, lane, violation_type, penalty_amount, snapshot_path
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID,
		toMillis(v.Timestamp),
		v.Lane,
		v.Type,
		v.PenaltyAmount,
		v.SnapshotPath,
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

// AverageLoad returns the mean load logged for a slot.
func (r *SQLiteRepository) AverageLoad(ctx context.Context, dayOfWeek, hour int) (float64, bool, error) {
	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT AVG(load_score) FROM signal_logs WHERE day_of_week = ? AND hour = ?`,
		dayOfWeek, hour,
	).Scan(&avg)
	if err != nil {
		return 0, false, fmt.Errorf("average load: %w", err)
	}
	return avg.Float64, avg.Valid, nil
}

// PeakSlots returns the busiest slots for lane.
func (r *SQLiteRepository) PeakSlots(ctx context.Context, lane string, limit int) ([]PeakSlot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT day_of_week, hour, AVG(load_score) AS avg_load
		 FROM signal_logs
		 WHERE lane = ?
		 GROUP BY day_of_week, hour
		 ORDER BY avg_load DESC, day_of_week, hour
		 LIMIT ?`,
		lane, sqliteLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("peak slots: %w", err)
	}
	defer rows.Close()

	var slots []PeakSlot
	for rows.Next() {
		var s PeakSlot
		if err := rows.Scan(&s.DayOfWeek, &s.Hour, &s.AverageLoad); err != nil {
			return nil, fmt.Errorf("scan peak slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// ListSignals returns logged decisions, newest first.
func (r *SQLiteRepository) ListSignals(ctx context.Context, limit int) ([]SignalLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, logged_at, lane, load_score, green_seconds, emergency, reason, hour, day_of_week
		 FROM signal_logs
		 ORDER BY logged_at DESC, rowid DESC
		 LIMIT ?`,
		sqliteLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list signal logs: %w", err)
	}
	defer rows.Close()

	var out []SignalLog
	for rows.Next() {
		var (
			s      SignalLog
			millis int64
		)
		if err := rows.Scan(
			&s.ID,
			&millis,
			&s.Lane,
			&s.LoadScore,
			&s.GreenSeconds,
			&s.Emergency,
			&s.Reason,
			&s.Hour,
			&s.DayOfWeek,
		); err != nil {
			return nil, fmt.Errorf("scan signal log: %w", err)
		}
		s.Timestamp = fromMillis(millis)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListViolations returns violations, newest first.
func (r *SQLiteRepository) ListViolations(ctx context.Context, limit int) ([]Violation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, logged_at, lane, violation_type, penalty_amount, snapshot_path
		 FROM violations
		 ORDER BY logged_at DESC, rowid DESC
		 LIMIT ?`,
		sqliteLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []Violation
	for rows.Next() {
		var (
			v      Violation
			millis int64
		)
		if err := rows.Scan(&v.ID, &millis, &v.Lane, &v.Type, &v.PenaltyAmount, &v.SnapshotPath); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Timestamp = fromMillis(millis)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ViolationSummary returns the violation count and total penalty.
func (r *SQLiteRepository) ViolationSummary(ctx context.Context) (ViolationTotals, error) {
	var totals ViolationTotals
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(penalty_amount), 0) FROM violations`,
	).Scan(&totals.Count, &totals.TotalPenalty)
	if err != nil {
		return ViolationTotals{}, fmt.Errorf("violation summary: %w", err)
	}
	return totals, nil
}

// AverageGreenByLane returns the mean green time per logged lane.
func (r *SQLiteRepository) AverageGreenByLane(ctx context.Context) ([]LaneGreen, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT lane, AVG(green_seconds), COUNT(*)
		 FROM signal_logs
		 GROUP BY lane
		 ORDER BY lane`,
	)
	if err != nil {
		return nil, fmt.Errorf("average green: %w", err)
	}
	defer rows.Close()

	var out []LaneGreen
	for rows.Next() {
		var g LaneGreen
		if err := rows.Scan(&g.Lane, &g.AverageGreen, &g.Samples); err != nil {
			return nil, fmt.Errorf("scan average green: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ClearViolations deletes every violation.
func (r *SQLiteRepository) ClearViolations(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM violations`)
	if err != nil {
		return 0, fmt.Errorf("clear violations: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the database handle.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// sqliteLimit maps "no limit" to SQLite's LIMIT -1.
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
