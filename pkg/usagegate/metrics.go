package usagegate

import "time"

// Metrics defines the interface for tracking gate operations.
type Metrics interface {
	// RecordDecision records the outcome of an Evaluate call.
	RecordDecision(action, tier string, allowed, degraded bool)

	// RecordFastPathBlock records a denial made from the local snapshot
	// without contacting the usage service.
	RecordFastPathBlock(action string)

	// RecordAuthorityCall records the duration and status of a remote
	// usage-service call ("record_usage" or "fetch_snapshot").
	RecordAuthorityCall(operation string, duration time.Duration, err error)

	// RecordSnapshotRefresh records a snapshot refresh attempt.
	RecordSnapshotRefresh(success bool)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordDecision(action, tier string, allowed, degraded bool)            {}
func (n *NoopMetrics) RecordFastPathBlock(action string)                                     {}
func (n *NoopMetrics) RecordAuthorityCall(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordSnapshotRefresh(success bool)                                    {}
