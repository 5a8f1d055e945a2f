package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheusCollectorImplementsInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ Collector = NewPrometheusCollector(reg)
}

func TestPrometheusCollectorMethods(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	// All methods should execute without panic
	c.CommandProcessed("start", "ok")
	c.CommandProcessed("send", "denied")
	c.AuthorizationDenied("dispatch")
	c.RegistryMutated("approve")
	c.RegistryMutated("remove")
	c.ApprovedIdentities(2)
	c.UploadAccepted(3)
	c.DispatchStarted()
	c.SendCompleted(ResultSuccess, 20*time.Millisecond)
	c.SendCompleted(ResultFailure, 5*time.Millisecond)
	c.DispatchFinished(OutcomeCompleted)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	metricNames := make(map[string]bool)
	for _, mf := range mfs {
		metricNames[mf.GetName()] = true
	}

	expectedMetrics := []string{
		"relayd_commands_total",
		"relayd_authorization_denied_total",
		"relayd_registry_mutations_total",
		"relayd_approved_identities",
		"relayd_uploads_total",
		"relayd_recipients_uploaded_total",
		"relayd_recipients_per_upload",
		"relayd_dispatches_total",
		"relayd_dispatch_in_progress",
		"relayd_sends_total",
		"relayd_send_duration_seconds",
	}

	for _, name := range expectedMetrics {
		if !metricNames[name] {
			t.Errorf("expected metric %q not found", name)
		}
	}
}

func TestPrometheusCollectorDispatchGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.DispatchStarted()
	if v := gaugeValue(t, reg, "relayd_dispatch_in_progress"); v != 1 {
		t.Errorf("dispatch_in_progress = %v, want 1", v)
	}

	// A rejected concurrent request must not clear the running job's gauge.
	c.DispatchFinished(OutcomeBusy)
	if v := gaugeValue(t, reg, "relayd_dispatch_in_progress"); v != 1 {
		t.Errorf("dispatch_in_progress after busy = %v, want 1", v)
	}

	c.DispatchFinished(OutcomeCompleted)
	if v := gaugeValue(t, reg, "relayd_dispatch_in_progress"); v != 0 {
		t.Errorf("dispatch_in_progress after completion = %v, want 0", v)
	}
}

func TestPrometheusCollectorSendCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SendCompleted(ResultSuccess, time.Millisecond)
	c.SendCompleted(ResultSuccess, time.Millisecond)
	c.SendCompleted(ResultFailure, time.Millisecond)

	mf := family(t, reg, "relayd_sends_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("sends_total has %d metric entries, want 2", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		var result string
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "result" {
				result = lp.GetValue()
			}
		}
		want := map[string]float64{ResultSuccess: 2, ResultFailure: 1}[result]
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("sends_total{result=%q} = %v, want %v", result, got, want)
		}
	}
}

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %q not found", name)
	return nil
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mf := family(t, reg, name)
	if len(mf.GetMetric()) == 0 {
		t.Fatalf("%s has no metrics", name)
	}
	return mf.GetMetric()[0].GetGauge().GetValue()
}
