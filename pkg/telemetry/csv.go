package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"
)

// CSVConfig holds the CSV session sink parameters.
type CSVConfig struct {
	// Dir is where session files are created.
	Dir string
	// SessionName overrides the timestamped default file name.
	SessionName string
	// BatchSize flushes once this many rows are buffered.
	BatchSize int
	// FlushEveryFrames flushes after this many appends even if the
	// batch is not full.
	FlushEveryFrames int
	// IncludeDiagnostics adds the still/jump raw-value columns.
	IncludeDiagnostics bool
}

// DefaultCSVConfig returns the CSV sink defaults.
func DefaultCSVConfig() CSVConfig {
	return CSVConfig{
		Dir:              ".",
		BatchSize:        64,
		FlushEveryFrames: 300,
	}
}

type flushReq struct {
	rows []Record
	// done is non-nil for synchronous flushes (session boundaries).
	done chan error
}

// CSVSink writes one CSV file per logging session. The header is written
// once at session start; rows are buffered on the tick thread and handed
// to a background flusher so the control tick never blocks on I/O. A
// failed write is logged and the rows are retried at the next flush
// boundary.
type CSVSink struct {
	cfg CSVConfig

	out    io.Writer
	closer io.Closer
	w      *csv.Writer

	pending     []Record
	sinceFlush  int
	requests    chan flushReq
	flusherDone chan struct{}
	// closed guards against tick-thread calls after Close; the session
	// is over, so late appends and flushes become no-ops.
	closed bool
}

// NewCSVSink opens the session file and writes the header.
func NewCSVSink(cfg CSVConfig) (*CSVSink, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultCSVConfig().BatchSize
	}
	if cfg.FlushEveryFrames <= 0 {
		cfg.FlushEveryFrames = DefaultCSVConfig().FlushEveryFrames
	}
	name := cfg.SessionName
	if name == "" {
		name = fmt.Sprintf("session_%s.csv", time.Now().Format("20060102_150405"))
	}
	path := filepath.Join(cfg.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry session file: %w", err)
	}
	s, err := newCSVSinkWriter(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	klog.V(2).Infof("Telemetry session started at %s", path)
	return s, nil
}

// newCSVSinkWriter builds a sink over an arbitrary writer. Split out so
// tests can inject failing writers.
func newCSVSinkWriter(out io.Writer, cfg CSVConfig) (*CSVSink, error) {
	s := &CSVSink{
		cfg:         cfg,
		out:         out,
		w:           csv.NewWriter(out),
		requests:    make(chan flushReq, 8),
		flusherDone: make(chan struct{}),
	}
	if err := s.w.Write(header(cfg.IncludeDiagnostics)); err != nil {
		return nil, fmt.Errorf("write telemetry header: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return nil, fmt.Errorf("write telemetry header: %w", err)
	}
	go s.flushLoop()
	return s, nil
}

// Append buffers one row and dispatches a batch at the configured
// boundaries. It never blocks: if the flusher is saturated the batch
// stays buffered until the next boundary.
func (s *CSVSink) Append(r Record) {
	if s.closed {
		return
	}
	s.pending = append(s.pending, r)
	s.sinceFlush++
	if len(s.pending) >= s.cfg.BatchSize || s.sinceFlush >= s.cfg.FlushEveryFrames {
		s.dispatch()
	}
}

func (s *CSVSink) dispatch() {
	if len(s.pending) == 0 {
		s.sinceFlush = 0
		return
	}
	select {
	case s.requests <- flushReq{rows: s.pending}:
		s.pending = nil
		s.sinceFlush = 0
	default:
		// Flusher saturated; keep the rows and retry at the next
		// boundary rather than stalling the tick.
	}
}

// Flush forces all buffered rows out synchronously. Intended for session
// boundaries, not the per-tick path.
func (s *CSVSink) Flush() error {
	if s.closed {
		return nil
	}
	done := make(chan error, 1)
	s.requests <- flushReq{rows: s.pending, done: done}
	s.pending = nil
	s.sinceFlush = 0
	return <-done
}

// Close flushes and tears down the flusher and the session file.
func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	err := s.Flush()
	s.closed = true
	close(s.requests)
	<-s.flusherDone
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// flushLoop owns the writer. Failed batches are kept, in order, and
// retried in front of the next batch.
func (s *CSVSink) flushLoop() {
	defer close(s.flusherDone)
	var retry []Record
	for req := range s.requests {
		rows := append(retry, req.rows...)
		err := s.writeRows(rows)
		if err != nil {
			klog.Warningf("Telemetry flush failed (%d rows kept for retry): %v", len(rows), err)
			retry = rows
		} else {
			retry = nil
		}
		if req.done != nil {
			req.done <- err
		}
	}
	if len(retry) > 0 {
		if err := s.writeRows(retry); err != nil {
			klog.Warningf("Dropping %d telemetry rows at session close: %v", len(retry), err)
		}
	}
}

func (s *CSVSink) writeRows(rows []Record) error {
	for _, r := range rows {
		if err := s.w.Write(r.fields(s.cfg.IncludeDiagnostics)); err != nil {
			s.resetWriter()
			return err
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.resetWriter()
		return err
	}
	return nil
}

// resetWriter discards the csv.Writer's sticky error state so a retry
// can succeed once the underlying writer recovers.
func (s *CSVSink) resetWriter() {
	s.w = csv.NewWriter(s.out)
}
