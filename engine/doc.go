// Package engine wires all queue subsystems together and provides the
// primary application-level API for registering handlers and submitting
// work.
//
// The engine package exists to break an import cycle: the root conveyor
// package defines Config and the sentinel errors (imported by job, worker,
// and the stores) and therefore cannot import those packages back. Engine
// sits above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	q, err := conveyor.New(
//	    conveyor.WithStore(memory.New()),
//	    conveyor.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(q,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithBackoff(backoff.NewExponentialJitter(time.Second, time.Minute)),
//	    engine.WithTenantLimit(tenant.Limit{TenantID: "acme", MaxConcurrency: 8}),
//	)
//
// # Registering and Submitting Work
//
//	engine.Register(eng, job.NewDefinition("send-email", sendEmail))
//
//	engine.Submit(ctx, eng, "acme", "user-1", "send-email", EmailInput{To: "a@b.c"},
//	    job.WithPriority(job.PriorityHigh))
//
//	eng.SubmitBatch(ctx, "acme", "user-1", items, engine.BatchOptions{SkipExisting: true})
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithBackoff] — set the retry backoff strategy
//   - [WithTenantLimit] — override per-tenant concurrency caps
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
