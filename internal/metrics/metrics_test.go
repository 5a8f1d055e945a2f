package metrics

import (
	"testing"
	"time"
)

func TestNoopCollectorImplementsInterface(t *testing.T) {
	var _ Collector = &NoopCollector{}
}

func TestNoopCollectorMethods(t *testing.T) {
	c := &NoopCollector{}

	// All methods should execute without panic
	c.CommandProcessed("start", "ok")
	c.AuthorizationDenied("upload")
	c.RegistryMutated("approve")
	c.ApprovedIdentities(3)
	c.UploadAccepted(10)
	c.DispatchStarted()
	c.DispatchFinished(OutcomeCompleted)
	c.SendCompleted(ResultSuccess, time.Millisecond)
}
