package creditledger

import "time"

// Metrics defines the interface for tracking ledger operations.
type Metrics interface {
	// RecordCheck records a quota check decision. reason is empty when allowed.
	RecordCheck(operation string, allowed bool, reason string)

	// RecordSpend records a spend attempt.
	RecordSpend(operation string, cost int, success bool)

	// RecordCompensation records an over-draw rollback. success is false when
	// the rollback itself failed and the account was left negative.
	RecordCompensation(operation string, success bool)

	// RecordWindowReset records a usage counter reset ("daily" or "monthly").
	RecordWindowReset(window string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordCheck(operation string, allowed bool, reason string)                  {}
func (n *NoopMetrics) RecordSpend(operation string, cost int, success bool)                       {}
func (n *NoopMetrics) RecordCompensation(operation string, success bool)                          {}
func (n *NoopMetrics) RecordWindowReset(window string)                                            {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
