package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mohamedkhairy/swing-detector/internal/config"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	swingWriteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swing_store_write_total",
			Help: "Total number of swings written to PostgreSQL",
		},
		[]string{"status"}, // "success" or "error"
	)

	swingWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swing_store_write_errors_total",
			Help: "Total number of swing write errors",
		},
		[]string{"error_type"},
	)

	swingWriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swing_store_write_latency_seconds",
			Help:    "Write latency to PostgreSQL in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)

	swingWriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swing_store_write_queue_depth",
			Help: "Current depth of the swing write queue",
		},
	)
)

// WriteConfig holds configuration for queued swing writes
type WriteConfig struct {
	BatchSize  int
	Interval   time.Duration
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// WriteConfigFromConfig converts the service write settings.
func WriteConfigFromConfig(c config.WriteConfig) WriteConfig {
	return WriteConfig{
		BatchSize:  c.BatchSize,
		Interval:   c.Interval,
		QueueSize:  c.QueueSize,
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay,
	}
}

type swingRow struct {
	key   models.SeriesKey
	swing models.SwingPoint
}

// PostgresStore implements BarStorage, SwingStorage and ContextHistory on
// PostgreSQL. Swings are written asynchronously through a batching queue once
// Start has been called; before that WriteSwings writes synchronously.
type PostgresStore struct {
	db          *sql.DB
	writeConfig WriteConfig

	writeQueue chan []swingRow
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	running    bool
}

// NewPostgresStore opens and pings the database.
func NewPostgresStore(dbConfig config.DatabaseConfig, writeConfig WriteConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
	)

	return newPostgresStore(db, writeConfig), nil
}

func newPostgresStore(db *sql.DB, writeConfig WriteConfig) *PostgresStore {
	if writeConfig.BatchSize <= 0 {
		writeConfig.BatchSize = 100
	}
	if writeConfig.QueueSize <= 0 {
		writeConfig.QueueSize = 1000
	}
	if writeConfig.Interval <= 0 {
		writeConfig.Interval = time.Second
	}
	if writeConfig.MaxRetries <= 0 {
		writeConfig.MaxRetries = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PostgresStore{
		db:          db,
		writeConfig: writeConfig,
		writeQueue:  make(chan []swingRow, writeConfig.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Migrate creates the schema when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Start starts the write queue processor
func (s *PostgresStore) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("swing write queue is already running")
	}
	s.running = true

	logger.Info("Starting swing write queue",
		logger.Int("batch_size", s.writeConfig.BatchSize),
		logger.Duration("interval", s.writeConfig.Interval),
	)

	s.wg.Add(1)
	go s.processWriteQueue()
	return nil
}

// Stop stops the write queue processor, flushes queued swings and closes the
// database.
func (s *PostgresStore) Stop() error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning {
		logger.Info("Stopping swing write queue")
		s.cancel()
		s.wg.Wait()
		s.drain()
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

// drain writes whatever is still queued.
func (s *PostgresStore) drain() {
	for {
		select {
		case rows := <-s.writeQueue:
			s.writeSwingsSync(context.Background(), rows)
		default:
			return
		}
	}
}

// Close is Stop.
func (s *PostgresStore) Close() error {
	return s.Stop()
}

// IsRunning returns whether the write queue is running
func (s *PostgresStore) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// WriteSwings validates swings and enqueues them, or writes them directly
// when the queue is not running.
func (s *PostgresStore) WriteSwings(ctx context.Context, key models.SeriesKey, swings []models.SwingPoint) error {
	rows := validSwingRows(key, swings)
	if len(rows) == 0 {
		return nil
	}

	if !s.IsRunning() {
		return s.insertSwings(ctx, rows)
	}

	select {
	case s.writeQueue <- rows:
		swingWriteQueueDepth.Set(float64(len(s.writeQueue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		swingWriteErrors.WithLabelValues("queue_full").Inc()
		logger.Warn("Swing write queue is full",
			logger.Int("queue_depth", len(s.writeQueue)),
			logger.Int("swings_count", len(rows)),
		)
		return fmt.Errorf("write queue is full")
	}
}

func validSwingRows(key models.SeriesKey, swings []models.SwingPoint) []swingRow {
	rows := make([]swingRow, 0, len(swings))
	for _, sw := range swings {
		if err := sw.Validate(); err != nil {
			logger.Warn("Invalid swing, skipping",
				logger.ErrorField(err),
				logger.Series(key),
			)
			continue
		}
		rows = append(rows, swingRow{key: key, swing: sw})
	}
	return rows
}

func (s *PostgresStore) processWriteQueue() {
	defer s.wg.Done()

	batch := make([]swingRow, 0, s.writeConfig.BatchSize)
	ticker := time.NewTicker(s.writeConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			if len(batch) > 0 {
				s.writeSwingsSync(context.Background(), batch)
			}
			return

		case rows := <-s.writeQueue:
			batch = append(batch, rows...)
			swingWriteQueueDepth.Set(float64(len(s.writeQueue)))
			if len(batch) >= s.writeConfig.BatchSize {
				s.writeSwingsSync(context.Background(), batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.writeSwingsSync(context.Background(), batch)
				batch = batch[:0]
			}
		}
	}
}

// writeSwingsSync writes swings with exponential backoff between retries
func (s *PostgresStore) writeSwingsSync(ctx context.Context, rows []swingRow) {
	if len(rows) == 0 {
		return
	}
	start := time.Now()

	var err error
	for attempt := 0; attempt < s.writeConfig.MaxRetries; attempt++ {
		if err = s.insertSwings(ctx, rows); err == nil {
			break
		}
		if attempt < s.writeConfig.MaxRetries-1 {
			delay := s.writeConfig.RetryDelay * time.Duration(1<<uint(attempt))
			logger.Warn("Failed to write swings, retrying",
				logger.ErrorField(err),
				logger.Int("attempt", attempt+1),
				logger.Int("swings_count", len(rows)),
				logger.Duration("delay", delay),
			)
			time.Sleep(delay)
		}
	}

	swingWriteLatency.WithLabelValues("write").Observe(time.Since(start).Seconds())

	if err != nil {
		swingWriteErrors.WithLabelValues("write_failed").Inc()
		swingWriteTotal.WithLabelValues("error").Add(float64(len(rows)))
		logger.CountError("swing-store", "write_failed")
		logger.Error("Failed to write swings after retries",
			logger.ErrorField(err),
			logger.Int("swings_count", len(rows)),
		)
		return
	}
	swingWriteTotal.WithLabelValues("success").Add(float64(len(rows)))
}

func (s *PostgresStore) insertSwings(ctx context.Context, rows []swingRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO swings (instrument, timeframe, time, direction, price, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (instrument, timeframe, time, direction) DO UPDATE SET
			price = EXCLUDED.price,
			confirmed_at = EXCLUDED.confirmed_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.key.Instrument,
			string(r.key.Timeframe),
			r.swing.Time,
			string(r.swing.Direction),
			r.swing.Price,
			r.swing.Confirmed(),
		); err != nil {
			return fmt.Errorf("failed to insert swing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSwings retrieves swings matching filter, oldest first
func (s *PostgresStore) GetSwings(ctx context.Context, key models.SeriesKey, filter SwingFilter) ([]models.SwingPoint, error) {
	query := `
		SELECT time, direction, price, confirmed_at
		FROM swings
		WHERE instrument = $1 AND timeframe = $2
	`
	args := []interface{}{key.Instrument, string(key.Timeframe)}
	argIndex := 3

	if !filter.Start.IsZero() {
		query += fmt.Sprintf(" AND time >= $%d", argIndex)
		args = append(args, filter.Start)
		argIndex++
	}
	if !filter.End.IsZero() {
		query += fmt.Sprintf(" AND time <= $%d", argIndex)
		args = append(args, filter.End)
		argIndex++
	}
	if filter.Direction != "" {
		query += fmt.Sprintf(" AND direction = $%d", argIndex)
		args = append(args, string(filter.Direction))
		argIndex++
	}

	query += " ORDER BY confirmed_at ASC, time ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	return s.querySwings(ctx, key, query, args...)
}

// GetLatestSwings retrieves the latest N swings, oldest first
func (s *PostgresStore) GetLatestSwings(ctx context.Context, key models.SeriesKey, limit int) ([]models.SwingPoint, error) {
	swings, err := s.querySwings(ctx, key, `
		SELECT time, direction, price, confirmed_at
		FROM swings
		WHERE instrument = $1 AND timeframe = $2
		ORDER BY confirmed_at DESC, time DESC
		LIMIT $3
	`, key.Instrument, string(key.Timeframe), limit)
	if err != nil {
		return nil, err
	}
	reverseSwings(swings)
	return swings, nil
}

func (s *PostgresStore) querySwings(ctx context.Context, key models.SeriesKey, query string, args ...interface{}) ([]models.SwingPoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query swings: %w", err)
	}
	defer rows.Close()

	var swings []models.SwingPoint
	for rows.Next() {
		sw := models.SwingPoint{Timeframe: key.Timeframe}
		var direction string
		if err := rows.Scan(&sw.Time, &direction, &sw.Price, &sw.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("failed to scan swing: %w", err)
		}
		sw.Direction = models.Direction(direction)
		sw.Time = sw.Time.UTC()
		sw.ConfirmedAt = sw.ConfirmedAt.UTC()
		swings = append(swings, sw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return swings, nil
}

// FindSwingBefore returns the latest swing before t, or nil
func (s *PostgresStore) FindSwingBefore(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	return s.findSwing(ctx, key, "time < $3", "time DESC", t, dir)
}

// FindSwingAfter returns the earliest swing after t, or nil
func (s *PostgresStore) FindSwingAfter(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	return s.findSwing(ctx, key, "time > $3", "time ASC", t, dir)
}

func (s *PostgresStore) findSwing(ctx context.Context, key models.SeriesKey, cond, order string, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	query := `
		SELECT time, direction, price, confirmed_at
		FROM swings
		WHERE instrument = $1 AND timeframe = $2 AND ` + cond
	args := []interface{}{key.Instrument, string(key.Timeframe), t}
	if dir != "" {
		query += " AND direction = $4"
		args = append(args, string(dir))
	}
	query += " ORDER BY " + order + ", confirmed_at ASC LIMIT 1"
	return firstSwing(s.querySwings(ctx, key, query, args...))
}

// GetExtremeSwings returns the highest and lowest priced swings
func (s *PostgresStore) GetExtremeSwings(ctx context.Context, key models.SeriesKey) (*models.SwingPoint, *models.SwingPoint, error) {
	extreme := func(order string) (*models.SwingPoint, error) {
		return firstSwing(s.querySwings(ctx, key, `
			SELECT time, direction, price, confirmed_at
			FROM swings
			WHERE instrument = $1 AND timeframe = $2
			ORDER BY price `+order+`, time ASC
			LIMIT 1
		`, key.Instrument, string(key.Timeframe)))
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

// DeleteSwingsAfter removes swings confirmed strictly after t
func (s *PostgresStore) DeleteSwingsAfter(ctx context.Context, key models.SeriesKey, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM swings
		WHERE instrument = $1 AND timeframe = $2 AND confirmed_at > $3
	`, key.Instrument, string(key.Timeframe), t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete swings: %w", err)
	}
	return res.RowsAffected()
}

// WriteBars upserts bars of one series in a single transaction
func (s *PostgresStore) WriteBars(ctx context.Context, key models.SeriesKey, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (instrument, timeframe, time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instrument, timeframe, time) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if err := b.Validate(); err != nil {
			logger.Warn("Invalid bar, skipping", logger.ErrorField(err), logger.Series(key))
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			key.Instrument, string(key.Timeframe), b.Time,
			b.Open, b.High, b.Low, b.Close, b.Volume,
		); err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetBars retrieves bars within [start, end], oldest first
func (s *PostgresStore) GetBars(ctx context.Context, key models.SeriesKey, start, end time.Time) ([]models.Bar, error) {
	return s.queryBars(ctx, `
		SELECT time, open, high, low, close, volume
		FROM bars
		WHERE instrument = $1 AND timeframe = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC
	`, key.Instrument, string(key.Timeframe), start, end)
}

// GetLatestBars retrieves the latest N bars, oldest first
func (s *PostgresStore) GetLatestBars(ctx context.Context, key models.SeriesKey, limit int) ([]models.Bar, error) {
	bars, err := s.queryBars(ctx, `
		SELECT time, open, high, low, close, volume
		FROM bars
		WHERE instrument = $1 AND timeframe = $2
		ORDER BY time DESC
		LIMIT $3
	`, key.Instrument, string(key.Timeframe), limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func (s *PostgresStore) queryBars(ctx context.Context, query string, args ...interface{}) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Time = b.Time.UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return bars, nil
}

// SaveContext stores a checkpoint keyed by its last bar time
func (s *PostgresStore) SaveContext(ctx context.Context, key models.SeriesKey, c *swing.DetectionContext) error {
	state, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO swing_contexts (instrument, timeframe, last_bar_time, version, state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instrument, timeframe, last_bar_time) DO UPDATE SET
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			saved_at = NOW()
	`, key.Instrument, string(key.Timeframe), c.LastBarTime, c.Version, state)
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

// LoadContext returns the most recent checkpoint
func (s *PostgresStore) LoadContext(ctx context.Context, key models.SeriesKey) (*swing.DetectionContext, error) {
	return s.loadContext(ctx, `
		SELECT state FROM swing_contexts
		WHERE instrument = $1 AND timeframe = $2
		ORDER BY last_bar_time DESC
		LIMIT 1
	`, key.Instrument, string(key.Timeframe))
}

// LoadContextBefore returns the latest checkpoint strictly before t
func (s *PostgresStore) LoadContextBefore(ctx context.Context, key models.SeriesKey, t time.Time) (*swing.DetectionContext, error) {
	return s.loadContext(ctx, `
		SELECT state FROM swing_contexts
		WHERE instrument = $1 AND timeframe = $2 AND last_bar_time < $3
		ORDER BY last_bar_time DESC
		LIMIT 1
	`, key.Instrument, string(key.Timeframe), t)
}

func (s *PostgresStore) loadContext(ctx context.Context, query string, args ...interface{}) (*swing.DetectionContext, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContextNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query context: %w", err)
	}
	var c swing.DetectionContext
	if err := json.Unmarshal(state, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	return &c, nil
}

// DeleteContextsAfter removes checkpoints whose last bar is strictly after t
func (s *PostgresStore) DeleteContextsAfter(ctx context.Context, key models.SeriesKey, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM swing_contexts
		WHERE instrument = $1 AND timeframe = $2 AND last_bar_time > $3
	`, key.Instrument, string(key.Timeframe), t)
	if err != nil {
		return fmt.Errorf("failed to delete contexts: %w", err)
	}
	return nil
}

func firstSwing(swings []models.SwingPoint, err error) (*models.SwingPoint, error) {
	if err != nil || len(swings) == 0 {
		return nil, err
	}
	return &swings[0], nil
}

func reverseSwings(swings []models.SwingPoint) {
	for i, j := 0, len(swings)-1; i < j; i, j = i+1, j-1 {
		swings[i], swings[j] = swings[j], swings[i]
	}
}
