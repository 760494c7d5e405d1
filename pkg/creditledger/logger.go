package creditledger

// Field is a key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// Logger receives structured log entries from the ledger. Adapters for
// concrete logging backends live under logger/; the constructor wires
// NoopLogger when none is configured.
type Logger interface {
	Debug(msg string, fields ...Field)

	Info(msg string, fields ...Field)

	// Warn is used for recoverable anomalies such as denied webhook
	// signatures.
	Warn(msg string, fields ...Field)

	// Error is used for failures that need operator attention, including
	// compensating updates that could not be applied.
	Error(msg string, fields ...Field)
}

// NoopLogger discards all entries.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
