/*
Package flowbus provides flow constructs and the container that runs them.

# Overview

A Flow is a named pipeline of processors with an exception handler, an
optional transaction configuration and a processing strategy. A Context
registers flows and the infrastructure they depend on, starts everything
in tier order and stops it in reverse:

	qm := queue.NewManager(queue.WithName("queues"))
	orders, err := flowbus.NewFlow("orders",
	    []processor.Processor{validate, aggregate, publish},
	    flowbus.WithQueues(qm),
	    flowbus.WithTransaction(&transaction.Config{
	        Action:  transaction.ActionBeginOrJoin,
	        Factory: transaction.NewManager(),
	    }),
	)
	if err != nil {
	    log.Fatal(err)
	}

	app := flowbus.NewContext()
	_ = app.Register(ctx, qm, flowbus.TierInfrastructure)
	_ = app.AddFlow(ctx, orders)
	if err := app.Start(ctx); err != nil {
	    log.Fatal(err)
	}
	defer app.Stop(ctx)

	out, err := orders.Process(ctx, message.New(order))

# Lifecycle

Components start by ascending Tier and, within a tier, in registration
order. Stop runs in exactly the reverse order, so a queue manager starts
before the flows using it and stops after them. Every transition fires a
notification (ContextStarting, ComponentStarted, ...) on the context's
notification server.

Processors of a flow that implement Startable or Stoppable are started
with the flow and stopped in reverse order, which is how an aggregator's
expiry monitor follows its flow.

# Processing

A synchronous flow processes each event on the caller's goroutine and
returns the result. An asynchronous flow queues the event for its workers
and returns nil. In both cases a failure reaches the exception handler.

Processors find the flow's scope, including an enriched logger, with
ScopeFrom and LoggerFrom, and the event's queue session with
queue.SessionFromContext.
*/
package flowbus
