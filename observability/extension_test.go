package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/id"
	"github.com/PulseAIShared/pulse-engine/observability"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

func setupMetrics(t *testing.T) (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return observability.NewMetricsExtensionWithMeter(provider.Meter("test")), reader
}

// counterValue collects and returns the summed value of a named counter,
// or -1 when the instrument recorded nothing.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return -1
}

func testRun() *run.Run {
	return &run.Run{
		Entity:         pulse.NewEntity(),
		ID:             id.NewRunID(),
		PlaybookID:     id.NewPlaybookID(),
		CustomerID:     id.NewCustomerID(),
		State:          run.StateExecuting,
		PotentialValue: 45000,
	}
}

func testPlaybook() *playbook.Playbook {
	return &playbook.Playbook{
		ID:   id.NewPlaybookID(),
		Name: "Recover failed payment",
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := setupMetrics(t)
	if e.Name() != "observability-metrics" {
		t.Fatalf("Name() = %q", e.Name())
	}
}

func TestMetricsExtension_SignalCounters(t *testing.T) {
	e, reader := setupMetrics(t)
	ctx := context.Background()

	sig := &signal.Signal{
		ID:      id.NewSignalID(),
		Type:    "payment_failure",
		Sources: []string{"stripe"},
	}
	if err := e.OnSignalReceived(ctx, sig); err != nil {
		t.Fatalf("OnSignalReceived: %v", err)
	}
	if err := e.OnSignalReceived(ctx, sig); err != nil {
		t.Fatalf("OnSignalReceived: %v", err)
	}
	if err := e.OnSignalMatched(ctx, sig, testPlaybook()); err != nil {
		t.Fatalf("OnSignalMatched: %v", err)
	}

	if got := counterValue(t, reader, "pulse.signal.received"); got != 2 {
		t.Errorf("pulse.signal.received = %d, want 2", got)
	}
	if got := counterValue(t, reader, "pulse.signal.matched"); got != 1 {
		t.Errorf("pulse.signal.matched = %d, want 1", got)
	}
}

func TestMetricsExtension_AdmissionRejected(t *testing.T) {
	e, reader := setupMetrics(t)

	err := e.OnAdmissionRejected(context.Background(), testPlaybook(), nil, "cooldown")
	if err != nil {
		t.Fatalf("OnAdmissionRejected: %v", err)
	}

	if got := counterValue(t, reader, "pulse.admission.rejected"); got != 1 {
		t.Errorf("pulse.admission.rejected = %d, want 1", got)
	}
}

func TestMetricsExtension_RunLifecycle(t *testing.T) {
	e, reader := setupMetrics(t)
	ctx := context.Background()
	r := testRun()

	if err := e.OnRunCreated(ctx, r); err != nil {
		t.Fatalf("OnRunCreated: %v", err)
	}
	if err := e.OnRunCompleted(ctx, r); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}
	if err := e.OnRunFailed(ctx, r); err != nil {
		t.Fatalf("OnRunFailed: %v", err)
	}
	if err := e.OnRunEscalated(ctx, r); err != nil {
		t.Fatalf("OnRunEscalated: %v", err)
	}

	for name, want := range map[string]int64{
		"pulse.run.created":         1,
		"pulse.run.completed":       1,
		"pulse.run.failed":          1,
		"pulse.run.escalated":       1,
		"pulse.run.recovered_value": 45000,
	} {
		if got := counterValue(t, reader, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestMetricsExtension_RecoveredValueSkipsZero(t *testing.T) {
	e, reader := setupMetrics(t)
	r := testRun()
	r.PotentialValue = 0

	if err := e.OnRunCompleted(context.Background(), r); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}

	if got := counterValue(t, reader, "pulse.run.recovered_value"); got != -1 {
		t.Errorf("pulse.run.recovered_value recorded %d, want nothing", got)
	}
}

func TestMetricsExtension_ActionHooks(t *testing.T) {
	e, reader := setupMetrics(t)
	ctx := context.Background()
	r := testRun()
	a := &playbook.Action{
		ID:   id.NewActionID(),
		Type: playbook.ActionSlackAlert,
	}

	if err := e.OnActionCompleted(ctx, r, a, 120*time.Millisecond); err != nil {
		t.Fatalf("OnActionCompleted: %v", err)
	}
	if err := e.OnActionFailed(ctx, r, a, errors.New("gateway refused")); err != nil {
		t.Fatalf("OnActionFailed: %v", err)
	}

	if got := counterValue(t, reader, "pulse.ext.action.failures"); got != 1 {
		t.Errorf("pulse.ext.action.failures = %d, want 1", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == "pulse.ext.action.duration" {
				found = true
			}
		}
	}
	if !found {
		t.Error("pulse.ext.action.duration histogram not recorded")
	}
}

func TestMetricsExtension_ScheduleFired(t *testing.T) {
	e, reader := setupMetrics(t)

	err := e.OnScheduleFired(context.Background(), testPlaybook(), time.Now().UTC())
	if err != nil {
		t.Fatalf("OnScheduleFired: %v", err)
	}

	if got := counterValue(t, reader, "pulse.schedule.fired"); got != 1 {
		t.Errorf("pulse.schedule.fired = %d, want 1", got)
	}
}
