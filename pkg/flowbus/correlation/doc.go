// Package correlation aggregates events that belong together.
//
// Events carrying the same correlation id form an EventGroup. A Correlator
// collects each arriving event into its group and asks a Callback whether
// the group is complete. A complete group is aggregated into a single event,
// removed, and remembered as processed so that late arrivals for it are
// dropped with a MissedAggregationGroup notification.
//
// Callbacks decide completion and aggregation:
//
//   - CollectionCallback waits for the group size carried by the events and
//     produces a message.Collection ordered by sequence
//   - SelectionCallback picks one event, such as the lowest bid
//   - CountCallback completes after a fixed number of events
//
// Groups that never complete expire after the configured timeout. With
// FailOnTimeout the group is reported as a *CorrelationTimeoutError to the
// exception handler; otherwise the partial group is aggregated and forwarded
// to the timeout processor.
//
//	c, err := correlation.NewCorrelator(correlation.NewCollectionCallback(),
//	    correlation.WithTimeout(30*time.Second),
//	    correlation.WithExceptionHandler(dlqHandler),
//	)
//	if err := c.Start(ctx); err != nil { ... }
//	defer c.Stop(ctx)
//
//	result, err := c.Process(ctx, evt) // nil until the group completes
package correlation
