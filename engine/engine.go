package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	pulse "github.com/PulseAIShared/pulse-engine"
	"github.com/PulseAIShared/pulse-engine/admit"
	"github.com/PulseAIShared/pulse-engine/audit"
	"github.com/PulseAIShared/pulse-engine/cluster"
	"github.com/PulseAIShared/pulse-engine/connector"
	"github.com/PulseAIShared/pulse-engine/customer"
	"github.com/PulseAIShared/pulse-engine/ext"
	mw "github.com/PulseAIShared/pulse-engine/middleware"
	"github.com/PulseAIShared/pulse-engine/observability"
	"github.com/PulseAIShared/pulse-engine/playbook"
	"github.com/PulseAIShared/pulse-engine/run"
	"github.com/PulseAIShared/pulse-engine/sched"
	"github.com/PulseAIShared/pulse-engine/signal"
	"github.com/PulseAIShared/pulse-engine/store"
	"github.com/PulseAIShared/pulse-engine/stream"
	"github.com/PulseAIShared/pulse-engine/throttle"
	"github.com/PulseAIShared/pulse-engine/triage"
	"github.com/PulseAIShared/pulse-engine/worker"
	"github.com/PulseAIShared/pulse-engine/workqueue"
)

// Engine wraps a Coordinator with every subsystem wired together.
// Use Build() to create one from a Coordinator.
type Engine struct {
	c          *pulse.Coordinator
	store      store.Store
	extensions *ext.Registry
	connectors *connector.Registry
	customers  customer.Catalog
	governor   worker.Governor
	machine    *run.Machine
	admitter   *admit.Admitter
	intake     *signal.Intake
	playbooks  *playbook.Service
	executor   *worker.Executor
	pool       *worker.Pool
	scheduler  *sched.Scheduler
	projector  *workqueue.Projector
	triage     *triage.Service
	broker     *stream.Broker
	mws        []mw.Middleware
	thresholds workqueue.Thresholds
	logger     *slog.Logger

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's action dispatch chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithConnector registers an action connector. A later registration for
// the same action type replaces the earlier one, so external callers can
// swap in their own implementations.
func WithConnector(c connector.Connector) Option {
	return func(eng *Engine) {
		eng.connectors.Register(c)
	}
}

// WithCustomerCatalog sets the customer catalog used for matching,
// admission, and action rendering. If not set, an empty static catalog
// is used and every lookup misses.
func WithCustomerCatalog(cat customer.Catalog) Option {
	return func(eng *Engine) {
		eng.customers = cat
	}
}

// WithThrottle gates action dispatch behind per-action-type and
// per-customer concurrency limits.
func WithThrottle(limits ...throttle.Limit) Option {
	return func(eng *Engine) {
		eng.governor = throttle.NewGovernor(limits...)
	}
}

// WithWorkQueueThresholds overrides the priority bucket thresholds used
// by the work queue projection.
func WithWorkQueueThresholds(t workqueue.Thresholds) Option {
	return func(eng *Engine) {
		eng.thresholds = t
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Coordinator.
// The Coordinator's store must implement the composite store.Store.
func Build(c *pulse.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()

	if c.Store() == nil {
		return nil, pulse.ErrNoStore
	}

	// Type-assert the store to get the composite store interface.
	st, ok := c.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("pulse: store does not implement store.Store")
	}

	eng := &Engine{
		c:          c,
		store:      st,
		extensions: ext.NewRegistry(logger),
		connectors: connector.NewRegistry(),
		thresholds: workqueue.DefaultThresholds(),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Default customer catalog if none provided. An empty static catalog
	// means matching proceeds without customer context and scheduled
	// playbooks find no segment members.
	if eng.customers == nil {
		eng.customers = customer.NewStatic()
	}

	// Every run transition and action outcome lands in the audit trail.
	eng.extensions.Register(audit.NewRecorder(st))

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/PulseAIShared/pulse-engine/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Live console updates fan out through the stream broker.
	eng.broker = stream.NewBroker(logger)
	eng.extensions.Register(eng.broker)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/PulseAIShared/pulse-engine")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/PulseAIShared/pulse-engine")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	config := c.Config()

	// Build default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(config.DefaultActionTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Core services: state machine, admission, intake, playbook CRUD.
	eng.machine = run.NewMachine(st, eng.extensions, logger)
	eng.admitter = admit.NewAdmitter(st, eng.extensions, logger)
	eng.intake = signal.NewIntake(st, logger)
	eng.playbooks = playbook.NewService(st, func(expr string) error {
		_, err := sched.ParseSchedule(expr)
		return err
	}, logger)

	// Create executor and pool.
	eng.executor = worker.NewExecutor(
		eng.machine,
		eng.connectors,
		st,
		st,
		eng.customers,
		eng.extensions,
		eng.governor,
		config.MaxErrorDetail,
		logger,
		allMws...,
	)

	eng.pool = worker.NewPool(
		st,
		eng.executor,
		logger,
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval, 5*time.Second),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleRunThreshold(config.StaleRunThreshold),
		worker.WithClusterStore(st),
	)

	// Wire back into the Coordinator.
	c.SetPool(eng.pool)
	c.SetExtensions(eng.extensions)

	// Create the scheduler: cron firing and snooze expiry.
	eng.scheduler = sched.NewScheduler(
		st,
		st,
		eng.machine,
		eng.admitter,
		eng.customers,
		st,
		eng.extensions,
		eng.pool.WorkerID(),
		logger,
		sched.WithTickInterval(config.TickInterval),
	)

	// Operator-facing read and write surfaces.
	eng.projector = workqueue.NewProjector(st, st, eng.customers, eng.thresholds, logger)
	eng.triage = triage.NewService(eng.machine, st, eng.executor, logger)

	// Register this worker in the cluster store.
	hostname, hostnameErr := os.Hostname()
	if hostnameErr != nil {
		hostname = "unknown"
	}
	w := &cluster.Worker{
		ID:          eng.pool.WorkerID(),
		Hostname:    hostname,
		Concurrency: config.Concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if regErr := st.RegisterWorker(context.Background(), w); regErr != nil {
		logger.Warn("failed to register worker in cluster store", slog.String("error", regErr.Error()))
	}

	return eng, nil
}

// Start begins run processing by starting the scheduler and worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	// Start the scheduler before the pool so leadership can be acquired.
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	// Deregister this worker from the cluster.
	if err := eng.store.DeregisterWorker(ctx, eng.pool.WorkerID()); err != nil {
		eng.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}

	// Stop the scheduler.
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("scheduler stop error", slog.String("error", err.Error()))
	}

	return eng.c.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Connectors returns the connector registry.
func (eng *Engine) Connectors() *connector.Registry { return eng.connectors }

// Coordinator returns the underlying Coordinator.
func (eng *Engine) Coordinator() *pulse.Coordinator { return eng.c }

// Store returns the composite store.
func (eng *Engine) Store() store.Store { return eng.store }

// Playbooks returns the playbook service for operator CRUD and lifecycle.
func (eng *Engine) Playbooks() *playbook.Service { return eng.playbooks }

// Machine returns the run state machine.
func (eng *Engine) Machine() *run.Machine { return eng.machine }

// Triage returns the triage service for operator run decisions.
func (eng *Engine) Triage() *triage.Service { return eng.triage }

// WorkQueue returns the work queue projector.
func (eng *Engine) WorkQueue() *workqueue.Projector { return eng.projector }

// Scheduler returns the playbook scheduler.
func (eng *Engine) Scheduler() *sched.Scheduler { return eng.scheduler }

// Broker returns the stream broker for console subscriptions.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }
