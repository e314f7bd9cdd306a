package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
)

// ReplayRun records one offline replay.
type ReplayRun struct {
	ID          string           `json:"id" yaml:"id"`
	Key         models.SeriesKey `json:"key" yaml:"key"`
	ReverseBars int              `json:"reverse_bars" yaml:"reverse_bars"`
	Source      string           `json:"source" yaml:"source"`
	Bars        int              `json:"bars" yaml:"bars"`
	Swings      int              `json:"swings" yaml:"swings"`
	StartedAt   time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time        `json:"finished_at" yaml:"finished_at"`
}

// SQLiteStore keeps swings, context checkpoints and replay runs in a local
// SQLite file. It holds no bars; the bar methods return ErrNotImplemented.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path and creates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) WriteBars(ctx context.Context, key models.SeriesKey, bars []models.Bar) error {
	return ErrNotImplemented
}

func (s *SQLiteStore) GetBars(ctx context.Context, key models.SeriesKey, start, end time.Time) ([]models.Bar, error) {
	return nil, ErrNotImplemented
}

func (s *SQLiteStore) GetLatestBars(ctx context.Context, key models.SeriesKey, limit int) ([]models.Bar, error) {
	return nil, ErrNotImplemented
}

func (s *SQLiteStore) WriteSwings(ctx context.Context, key models.SeriesKey, swings []models.SwingPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertSQLiteSwings(ctx, tx, key, "", swings); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordRun replaces the stored swings of the run's series with swings and
// records the run, in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, run ReplayRun, swings []models.SwingPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM swings WHERE instrument = ? AND timeframe = ?`,
		run.Key.Instrument, string(run.Key.Timeframe),
	); err != nil {
		return fmt.Errorf("failed to clear swings: %w", err)
	}
	if err := insertSQLiteSwings(ctx, tx, run.Key, run.ID, swings); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO replay_runs
		(id, instrument, timeframe, reverse_bars, source, bars, swings, started_ns, finished_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Key.Instrument, string(run.Key.Timeframe), run.ReverseBars, run.Source,
		run.Bars, run.Swings, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return tx.Commit()
}

// ListRuns returns the runs of a series, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context, key models.SeriesKey) ([]ReplayRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reverse_bars, source, bars, swings, started_ns, finished_ns
		FROM replay_runs
		WHERE instrument = ? AND timeframe = ?
		ORDER BY id DESC`,
		key.Instrument, string(key.Timeframe),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []ReplayRun
	for rows.Next() {
		r := ReplayRun{Key: key}
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.ReverseBars, &r.Source, &r.Bars, &r.Swings, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = fromNanos(started)
		r.FinishedAt = fromNanos(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func insertSQLiteSwings(ctx context.Context, tx *sql.Tx, key models.SeriesKey, runID string, swings []models.SwingPoint) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO swings (instrument, timeframe, time_ns, direction, price, confirmed_ns, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument, timeframe, time_ns, direction) DO UPDATE SET
			price = excluded.price,
			confirmed_ns = excluded.confirmed_ns,
			run_id = excluded.run_id`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	run := sql.NullString{String: runID, Valid: runID != ""}
	for _, sw := range swings {
		if err := sw.Validate(); err != nil {
			return fmt.Errorf("invalid swing %s: %w", sw, err)
		}
		if _, err := stmt.ExecContext(ctx,
			key.Instrument, string(key.Timeframe), sw.Time.UnixNano(), string(sw.Direction),
			sw.Price, sw.Confirmed().UnixNano(), run,
		); err != nil {
			return fmt.Errorf("failed to insert swing: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetSwings(ctx context.Context, key models.SeriesKey, filter SwingFilter) ([]models.SwingPoint, error) {
	query := `
		SELECT time_ns, direction, price, confirmed_ns
		FROM swings
		WHERE instrument = ? AND timeframe = ?`
	args := []interface{}{key.Instrument, string(key.Timeframe)}

	if !filter.Start.IsZero() {
		query += " AND time_ns >= ?"
		args = append(args, filter.Start.UnixNano())
	}
	if !filter.End.IsZero() {
		query += " AND time_ns <= ?"
		args = append(args, filter.End.UnixNano())
	}
	if filter.Direction != "" {
		query += " AND direction = ?"
		args = append(args, string(filter.Direction))
	}
	query += " ORDER BY confirmed_ns ASC, time_ns ASC"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	return s.querySwings(ctx, key, query, args...)
}

func (s *SQLiteStore) GetLatestSwings(ctx context.Context, key models.SeriesKey, limit int) ([]models.SwingPoint, error) {
	swings, err := s.querySwings(ctx, key, `
		SELECT time_ns, direction, price, confirmed_ns
		FROM swings
		WHERE instrument = ? AND timeframe = ?
		ORDER BY confirmed_ns DESC, time_ns DESC
		LIMIT ?`,
		key.Instrument, string(key.Timeframe), limit,
	)
	if err != nil {
		return nil, err
	}
	reverseSwings(swings)
	return swings, nil
}

func (s *SQLiteStore) querySwings(ctx context.Context, key models.SeriesKey, query string, args ...interface{}) ([]models.SwingPoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query swings: %w", err)
	}
	defer rows.Close()

	var swings []models.SwingPoint
	for rows.Next() {
		var timeNs, confirmedNs int64
		var direction string
		sw := models.SwingPoint{Timeframe: key.Timeframe}
		if err := rows.Scan(&timeNs, &direction, &sw.Price, &confirmedNs); err != nil {
			return nil, fmt.Errorf("failed to scan swing: %w", err)
		}
		sw.Time = fromNanos(timeNs)
		sw.ConfirmedAt = fromNanos(confirmedNs)
		sw.Direction = models.Direction(direction)
		swings = append(swings, sw)
	}
	return swings, rows.Err()
}

func (s *SQLiteStore) FindSwingBefore(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	return s.findSwing(ctx, key, "time_ns < ?", "time_ns DESC", t, dir)
}

func (s *SQLiteStore) FindSwingAfter(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	return s.findSwing(ctx, key, "time_ns > ?", "time_ns ASC", t, dir)
}

func (s *SQLiteStore) findSwing(ctx context.Context, key models.SeriesKey, cond, order string, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	query := `
		SELECT time_ns, direction, price, confirmed_ns
		FROM swings
		WHERE instrument = ? AND timeframe = ? AND ` + cond
	args := []interface{}{key.Instrument, string(key.Timeframe), t.UnixNano()}
	if dir != "" {
		query += " AND direction = ?"
		args = append(args, string(dir))
	}
	query += " ORDER BY " + order + ", confirmed_ns ASC LIMIT 1"
	return firstSwing(s.querySwings(ctx, key, query, args...))
}

func (s *SQLiteStore) GetExtremeSwings(ctx context.Context, key models.SeriesKey) (*models.SwingPoint, *models.SwingPoint, error) {
	extreme := func(order string) (*models.SwingPoint, error) {
		return firstSwing(s.querySwings(ctx, key, `
			SELECT time_ns, direction, price, confirmed_ns
			FROM swings
			WHERE instrument = ? AND timeframe = ?
			ORDER BY price `+order+`, time_ns ASC
			LIMIT 1`,
			key.Instrument, string(key.Timeframe)))
	}
	highest, err := extreme("DESC")
	if err != nil {
		return nil, nil, err
	}
	lowest, err := extreme("ASC")
	if err != nil {
		return nil, nil, err
	}
	return highest, lowest, nil
}

func (s *SQLiteStore) DeleteSwingsAfter(ctx context.Context, key models.SeriesKey, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM swings WHERE instrument = ? AND timeframe = ? AND confirmed_ns > ?`,
		key.Instrument, string(key.Timeframe), afterNanos(t),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete swings: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) SaveContext(ctx context.Context, key models.SeriesKey, c *swing.DetectionContext) error {
	state, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO swing_contexts (instrument, timeframe, last_bar_time_ns, version, state)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (instrument, timeframe, last_bar_time_ns) DO UPDATE SET
			version = excluded.version,
			state = excluded.state`,
		key.Instrument, string(key.Timeframe), c.LastBarTime.UnixNano(), c.Version, string(state),
	)
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadContext(ctx context.Context, key models.SeriesKey) (*swing.DetectionContext, error) {
	return s.loadContext(ctx, `
		SELECT state FROM swing_contexts
		WHERE instrument = ? AND timeframe = ?
		ORDER BY last_bar_time_ns DESC LIMIT 1`,
		key.Instrument, string(key.Timeframe),
	)
}

func (s *SQLiteStore) LoadContextBefore(ctx context.Context, key models.SeriesKey, t time.Time) (*swing.DetectionContext, error) {
	return s.loadContext(ctx, `
		SELECT state FROM swing_contexts
		WHERE instrument = ? AND timeframe = ? AND last_bar_time_ns < ?
		ORDER BY last_bar_time_ns DESC LIMIT 1`,
		key.Instrument, string(key.Timeframe), t.UnixNano(),
	)
}

func (s *SQLiteStore) loadContext(ctx context.Context, query string, args ...interface{}) (*swing.DetectionContext, error) {
	var state string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContextNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query context: %w", err)
	}
	var c swing.DetectionContext
	if err := json.Unmarshal([]byte(state), &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) DeleteContextsAfter(ctx context.Context, key models.SeriesKey, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM swing_contexts WHERE instrument = ? AND timeframe = ? AND last_bar_time_ns > ?`,
		key.Instrument, string(key.Timeframe), afterNanos(t),
	)
	if err != nil {
		return fmt.Errorf("failed to delete contexts: %w", err)
	}
	return nil
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// afterNanos maps the zero time below every stored value so that "after the
// zero time" selects everything.
func afterNanos(t time.Time) int64 {
	if t.IsZero() {
		return -1 << 63
	}
	return t.UnixNano()
}
