package log

// Logger is the interface applications implement to receive protocol
// log events. Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a protocol event. Implementations must be
	// thread-safe and return quickly; blocking stalls the emitting
	// session.
	Log(event Event)
}

// NoopLogger discards all events. Safe for concurrent use and usable
// as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// MultiLogger fans events out to several sinks.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger creates a logger delegating to every non-nil sink.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	ml := &MultiLogger{}
	for _, s := range sinks {
		if s != nil {
			ml.sinks = append(ml.sinks, s)
		}
	}
	return ml
}

// Log forwards the event to every sink.
func (ml *MultiLogger) Log(event Event) {
	for _, s := range ml.sinks {
		s.Log(event)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Logger = NoopLogger{}
	_ Logger = (*MultiLogger)(nil)
)
