// Package engine wires all pulse subsystems together and provides the
// primary application-level API: signal ingestion, playbook lifecycle,
// the operator work queue, and triage decisions.
//
// The engine package exists to break a fundamental import cycle: the root
// pulse package defines Entity (imported by run, playbook, signal, etc.)
// and therefore cannot import those packages back. Engine sits above all
// subsystem packages and below the application layer.
//
// # Building an Engine
//
//	c, err := pulse.New(
//	    pulse.WithStore(pgStore),
//	    pulse.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithCustomerCatalog(crmCatalog),
//	    engine.WithConnector(connector.NewSlackAlert(httpClient)),
//	    engine.WithThrottle(throttle.Limit{
//	        ActionType:  playbook.ActionStripeRetry,
//	        MaxInFlight: 5,
//	    }),
//	)
//
// # Driving Work
//
//	// Ingest a risk event; matching and admission happen inline.
//	res, err := eng.Ingest(ctx, signal.RawEvent{
//	    Type:       "payment_failed",
//	    CustomerID: custID.String(),
//	    Amount:     49900,
//	})
//
//	// Operator surfaces.
//	items, err := eng.WorkQueue().OpenApprovals(ctx)
//	run, err := eng.Triage().Approve(ctx, runID, "ops@example.com")
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the dispatch chain
//   - [WithConnector] — register an action connector
//   - [WithCustomerCatalog] — set the customer data source
//   - [WithThrottle] — gate dispatch behind concurrency limits
//   - [WithWorkQueueThresholds] — tune work queue priority buckets
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
