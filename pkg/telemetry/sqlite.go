package telemetry

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"
	_ "modernc.org/sqlite"
)

// SQLiteConfig holds the sqlite session sink parameters.
type SQLiteConfig struct {
	// Dir is where the session database is created.
	Dir string
	// SessionName overrides the timestamped default database name.
	SessionName string
	// BatchSize flushes once this many rows are buffered.
	BatchSize int
	// FlushEveryFrames flushes after this many appends even if the
	// batch is not full.
	FlushEveryFrames int
}

// DefaultSQLiteConfig returns the sqlite sink defaults.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Dir:              ".",
		BatchSize:        64,
		FlushEveryFrames: 300,
	}
}

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS ticks (
	timestamp            TEXT NOT NULL,
	frame                INTEGER NOT NULL,
	frame_cost_ms        REAL,
	smoothed_fps         REAL,
	scenario_mode        TEXT,
	target_count         INTEGER,
	quality_level        INTEGER,
	unit_count           INTEGER,
	renderer_count       INTEGER,
	emitter_count        INTEGER,
	head_lin_speed       REAL,
	head_ang_speed       REAL,
	latency_ms           REAL,
	anomaly              INTEGER,
	anomaly_magnitude    REAL,
	forecast_ms          REAL,
	forecast_valid       INTEGER,
	smoothed_forecast_ms REAL,
	smoothed_valid       INTEGER,
	controller_state     TEXT,
	cooldown             INTEGER,
	adaptation_enabled   INTEGER,
	actuation_count      INTEGER,
	control_error_ms     REAL,
	action               TEXT,
	particle_budget      REAL
);`

const insertTick = `INSERT INTO ticks VALUES
(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

// SQLiteSink stores session telemetry in a sqlite database, one
// transactional batch per flush boundary. Like the CSV sink, appends
// stay on the tick thread and writes happen on a background flusher.
type SQLiteSink struct {
	cfg SQLiteConfig
	db  *sql.DB

	pending     []Record
	sinceFlush  int
	requests    chan flushReq
	flusherDone chan struct{}
	// closed guards against tick-thread calls after Close.
	closed bool
}

// NewSQLiteSink opens (creating if needed) the session database.
func NewSQLiteSink(cfg SQLiteConfig) (*SQLiteSink, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSQLiteConfig().BatchSize
	}
	if cfg.FlushEveryFrames <= 0 {
		cfg.FlushEveryFrames = DefaultSQLiteConfig().FlushEveryFrames
	}
	name := cfg.SessionName
	if name == "" {
		name = fmt.Sprintf("session_%s.db", time.Now().Format("20060102_150405"))
	}
	path := filepath.Join(cfg.Dir, name)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	// The single flusher goroutine is the only writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(telemetrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	s := &SQLiteSink{
		cfg:         cfg,
		db:          db,
		requests:    make(chan flushReq, 8),
		flusherDone: make(chan struct{}),
	}
	go s.flushLoop()
	klog.V(2).Infof("Telemetry session database at %s", path)
	return s, nil
}

// Append buffers one row; batches leave the tick thread at the same
// boundaries as the CSV sink.
func (s *SQLiteSink) Append(r Record) {
	if s.closed {
		return
	}
	s.pending = append(s.pending, r)
	s.sinceFlush++
	if len(s.pending) >= s.cfg.BatchSize || s.sinceFlush >= s.cfg.FlushEveryFrames {
		s.dispatch()
	}
}

func (s *SQLiteSink) dispatch() {
	if len(s.pending) == 0 {
		s.sinceFlush = 0
		return
	}
	select {
	case s.requests <- flushReq{rows: s.pending}:
		s.pending = nil
		s.sinceFlush = 0
	default:
	}
}

// Flush forces all buffered rows out synchronously.
func (s *SQLiteSink) Flush() error {
	if s.closed {
		return nil
	}
	done := make(chan error, 1)
	s.requests <- flushReq{rows: s.pending, done: done}
	s.pending = nil
	s.sinceFlush = 0
	return <-done
}

// Close flushes, stops the flusher and closes the database.
func (s *SQLiteSink) Close() error {
	if s.closed {
		return nil
	}
	err := s.Flush()
	s.closed = true
	close(s.requests)
	<-s.flusherDone
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *SQLiteSink) flushLoop() {
	defer close(s.flusherDone)
	var retry []Record
	for req := range s.requests {
		rows := append(retry, req.rows...)
		err := s.insertBatch(rows)
		if err != nil {
			klog.Warningf("Telemetry insert failed (%d rows kept for retry): %v", len(rows), err)
			retry = rows
		} else {
			retry = nil
		}
		if req.done != nil {
			req.done <- err
		}
	}
	if len(retry) > 0 {
		if err := s.insertBatch(retry); err != nil {
			klog.Warningf("Dropping %d telemetry rows at session close: %v", len(retry), err)
		}
	}
}

func (s *SQLiteSink) insertBatch(rows []Record) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(insertTick)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(
			r.Timestamp.Format(time.RFC3339Nano),
			r.Frame, r.FrameCostMs, r.SmoothedFPS,
			r.ScenarioMode, r.TargetCount, r.QualityLevel,
			r.UnitCount, r.RendererCount, r.EmitterCount,
			r.HeadLinSpeed, r.HeadAngSpeed, r.LatencyMs,
			r.AnomalyDetected, r.AnomalyMagnitude,
			r.ForecastMs, r.ForecastValid, r.SmoothedForecastMs, r.SmoothedValid,
			r.ControllerState, r.CooldownActive, r.AdaptationEnabled,
			r.ActuationCount, r.ControlErrorMs, r.Action, r.ParticleBudget,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
