package metrics

import "time"

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// CommandProcessed is a no-op.
func (n *NoopCollector) CommandProcessed(command string, result string) {}

// AuthorizationDenied is a no-op.
func (n *NoopCollector) AuthorizationDenied(action string) {}

// RegistryMutated is a no-op.
func (n *NoopCollector) RegistryMutated(op string) {}

// ApprovedIdentities is a no-op.
func (n *NoopCollector) ApprovedIdentities(count int) {}

// UploadAccepted is a no-op.
func (n *NoopCollector) UploadAccepted(recipients int) {}

// DispatchStarted is a no-op.
func (n *NoopCollector) DispatchStarted() {}

// DispatchFinished is a no-op.
func (n *NoopCollector) DispatchFinished(outcome string) {}

// SendCompleted is a no-op.
func (n *NoopCollector) SendCompleted(result string, latency time.Duration) {}
