/*
Package routing dispatches events from a flow to one or more routes.

An outbound router holds an ordered list of routes (processors) and an
optional match predicate. Router kinds differ in how they use the routes:

  - FilteringRouter sends the event to its first route
  - MulticastRouter sends a correlated copy to every route
  - ChainingRouter feeds the result of each route into the next
  - ExceptionBasedRouter tries routes in order until one succeeds
  - RoundRobinRouter sends each event to the next route in turn
  - StaticRecipientList resolves recipients by name

A Collection evaluates several routers and dispatches to the first (or
every) router whose predicate matches.

# Routes

Routes may be supplied from untyped configuration, so AddRoute and SetRoutes
accept any value and reject anything that is not a processor.Processor:

	err := router.SetRoutes([]any{audit, billing})
	var rte *routing.RouteTypeError
	if errors.As(err, &rte) {
	    // routes are unchanged
	}

# Matching

	r := routing.NewFilteringRouter(
	    routing.WithName("eu-orders"),
	    routing.WithExpression(`properties.region == "eu"`),
	)

A router without a predicate matches every event.
*/
package routing
