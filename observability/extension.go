package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/PulseAIShared/pulse-engine/ext"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/signal"
)

// meterName is the instrumentation scope name for engine metrics.
const meterName = "github.com/PulseAIShared/pulse-engine/observability"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.SignalReceived    = (*MetricsExtension)(nil)
	_ ext.SignalMatched     = (*MetricsExtension)(nil)
	_ ext.RunCreated        = (*MetricsExtension)(nil)
	_ ext.AdmissionRejected = (*MetricsExtension)(nil)
	_ ext.RunCompleted      = (*MetricsExtension)(nil)
	_ ext.RunFailed         = (*MetricsExtension)(nil)
	_ ext.RunEscalated      = (*MetricsExtension)(nil)
	_ ext.ActionCompleted   = (*MetricsExtension)(nil)
	_ ext.ActionFailed      = (*MetricsExtension)(nil)
	_ ext.ScheduleFired     = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle counters for signals, admission,
// runs, and actions. Register it on the extension registry to track the
// whole pipeline without touching any engine code path.
type MetricsExtension struct {
	signalsReceived    metric.Int64Counter
	signalsMatched     metric.Int64Counter
	runsCreated        metric.Int64Counter
	admissionRejected  metric.Int64Counter
	runsCompleted      metric.Int64Counter
	runsFailed         metric.Int64Counter
	runsEscalated      metric.Int64Counter
	actionDuration     metric.Float64Histogram
	actionFailures     metric.Int64Counter
	schedulesFired     metric.Int64Counter
	recoveredValue     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If none is configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a MeterProvider for
// testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// Instrument creation errors fall back to noops per the OTel API
	// contract, so they are deliberately ignored here.
	e := &MetricsExtension{}
	e.signalsReceived, _ = meter.Int64Counter("pulse.signal.received",
		metric.WithDescription("Total signals accepted by intake"),
		metric.WithUnit("{signal}"))
	e.signalsMatched, _ = meter.Int64Counter("pulse.signal.matched",
		metric.WithDescription("Signal-to-playbook matches"),
		metric.WithUnit("{match}"))
	e.runsCreated, _ = meter.Int64Counter("pulse.run.created",
		metric.WithDescription("Runs admitted into the lifecycle"),
		metric.WithUnit("{run}"))
	e.admissionRejected, _ = meter.Int64Counter("pulse.admission.rejected",
		metric.WithDescription("Matches rejected at admission"),
		metric.WithUnit("{rejection}"))
	e.runsCompleted, _ = meter.Int64Counter("pulse.run.completed",
		metric.WithDescription("Runs whose actions all succeeded"),
		metric.WithUnit("{run}"))
	e.runsFailed, _ = meter.Int64Counter("pulse.run.failed",
		metric.WithDescription("Runs stopped by an action failure"),
		metric.WithUnit("{run}"))
	e.runsEscalated, _ = meter.Int64Counter("pulse.run.escalated",
		metric.WithDescription("Failed runs escalated by an operator"),
		metric.WithUnit("{run}"))
	e.actionDuration, _ = meter.Float64Histogram("pulse.ext.action.duration",
		metric.WithDescription("Connector dispatch time per action in seconds"),
		metric.WithUnit("s"))
	e.actionFailures, _ = meter.Int64Counter("pulse.ext.action.failures",
		metric.WithDescription("Action dispatches that returned an error"),
		metric.WithUnit("{failure}"))
	e.schedulesFired, _ = meter.Int64Counter("pulse.schedule.fired",
		metric.WithDescription("Scheduled playbook trigger firings"),
		metric.WithUnit("{firing}"))
	e.recoveredValue, _ = meter.Int64Counter("pulse.run.recovered_value",
		metric.WithDescription("Potential value of completed runs, in minor currency units"),
		metric.WithUnit("{cent}"))
	return e
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Intake and admission hooks ──────────────────────

// OnSignalReceived implements ext.SignalReceived.
func (m *MetricsExtension) OnSignalReceived(ctx context.Context, sig *signal.Signal) error {
	m.signalsReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("signal_type", sig.Type),
	))
	return nil
}

// OnSignalMatched implements ext.SignalMatched.
func (m *MetricsExtension) OnSignalMatched(ctx context.Context, sig *signal.Signal, p *playbook.Playbook) error {
	m.signalsMatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("signal_type", sig.Type),
		attribute.String("playbook_id", p.ID.String()),
	))
	return nil
}

// OnRunCreated implements ext.RunCreated.
func (m *MetricsExtension) OnRunCreated(ctx context.Context, r *run.Run) error {
	m.runsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("playbook_id", r.PlaybookID.String()),
	))
	return nil
}

// OnAdmissionRejected implements ext.AdmissionRejected.
func (m *MetricsExtension) OnAdmissionRejected(ctx context.Context, p *playbook.Playbook, _ *signal.Signal, reason string) error {
	m.admissionRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("playbook_id", p.ID.String()),
		attribute.String("reason", reason),
	))
	return nil
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, r *run.Run) error {
	attrs := metric.WithAttributes(
		attribute.String("playbook_id", r.PlaybookID.String()),
	)
	m.runsCompleted.Add(ctx, 1, attrs)
	if r.PotentialValue > 0 {
		m.recoveredValue.Add(ctx, r.PotentialValue, attrs)
	}
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *run.Run) error {
	m.runsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("playbook_id", r.PlaybookID.String()),
	))
	return nil
}

// OnRunEscalated implements ext.RunEscalated.
func (m *MetricsExtension) OnRunEscalated(ctx context.Context, r *run.Run) error {
	m.runsEscalated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("playbook_id", r.PlaybookID.String()),
	))
	return nil
}

// ── Action and schedule hooks ───────────────────────

// OnActionCompleted implements ext.ActionCompleted.
func (m *MetricsExtension) OnActionCompleted(ctx context.Context, r *run.Run, a *playbook.Action, elapsed time.Duration) error {
	m.actionDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("action_type", string(a.Type)),
		attribute.String("playbook_id", r.PlaybookID.String()),
	))
	return nil
}

// OnActionFailed implements ext.ActionFailed.
func (m *MetricsExtension) OnActionFailed(ctx context.Context, r *run.Run, a *playbook.Action, _ error) error {
	m.actionFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", string(a.Type)),
		attribute.String("playbook_id", r.PlaybookID.String()),
	))
	return nil
}

// OnScheduleFired implements ext.ScheduleFired.
func (m *MetricsExtension) OnScheduleFired(ctx context.Context, p *playbook.Playbook, _ time.Time) error {
	m.schedulesFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("playbook_id", p.ID.String()),
	))
	return nil
}
