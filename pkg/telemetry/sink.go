package telemetry

// Sink receives telemetry rows off the control tick. Append must never
// block; Flush forces buffered rows out and is only called at session
// boundaries.
type Sink interface {
	Append(Record)
	Flush() error
	Close() error
}

// NopSink discards all rows (sink: none).
type NopSink struct{}

func (NopSink) Append(Record) {}
func (NopSink) Flush() error  { return nil }
func (NopSink) Close() error  { return nil }

// MultiSink fans rows out to several sinks.
type MultiSink []Sink

func (m MultiSink) Append(r Record) {
	for _, s := range m {
		s.Append(r)
	}
}

func (m MultiSink) Flush() error {
	var first error
	for _, s := range m {
		if err := s.Flush(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
