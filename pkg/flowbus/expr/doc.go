/*
Package expr compiles the expressions used by routers and aggregators.

Expressions are written in the expr-lang language and evaluated against the
environment of an event (see message.Event.Env):

	payload         the event payload
	id              event id
	correlationId   correlation id, "" when uncorrelated
	groupSize       expected group size, -1 when unknown
	sequence        position within the group
	properties      map of event properties
	flow            name of the flow that produced the event

# Predicates

Predicates must evaluate to a boolean and drive router matching and the
failure expression of until-successful:

	p, err := expr.Compile(`properties.region == "eu" and payload.total > 100`)
	ok, err := p.Match(evt.Env())

Unknown variables evaluate to nil rather than failing compilation, so a
predicate over an optional property is simply false when it is absent.

# Values

Values extract data from an event, for example the number a selection
aggregator compares:

	v, err := expr.CompileValue("payload.price")
	price, err := v.Float(evt.Env())

# Custom functions

	e := expr.New(expr.WithFunction("isVIP", func(args ...any) (any, error) {
	    return args[0] == "gold", nil
	}))
	p, _ := e.Compile(`isVIP(properties.tier)`)

# Truthiness

Truthy applies loose truthiness to arbitrary values:

  - nil: false
  - bool: the boolean value
  - string: false if empty
  - numbers: false if zero
  - other types: true
*/
package expr
