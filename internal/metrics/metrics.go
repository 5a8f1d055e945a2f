// Package metrics provides interfaces and implementations for collecting
// relay metrics. This package defines the Collector interface for
// recording metrics and the Server interface for exposing them.
package metrics

import (
	"context"
	"time"
)

// Send results reported to SendCompleted.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Dispatch outcomes reported to DispatchFinished.
const (
	OutcomeCompleted = "completed"
	OutcomeCanceled  = "canceled"
	OutcomeFailed    = "failed"
	OutcomeNoList    = "no_list"
	OutcomeBusy      = "busy"
	OutcomeScreened  = "screened"
)

// Collector defines the interface for recording relay metrics.
type Collector interface {
	// Command metrics (result is "ok", "denied" or "error")
	CommandProcessed(command string, result string)
	AuthorizationDenied(action string)

	// Registry metrics
	RegistryMutated(op string)
	ApprovedIdentities(n int)

	// Upload metrics
	UploadAccepted(recipients int)

	// Dispatch metrics
	DispatchStarted()
	DispatchFinished(outcome string)

	// Per-recipient send metrics.
	// result should be "success" or "failure"
	SendCompleted(result string, latency time.Duration)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the server.
	Shutdown(ctx context.Context) error
}
