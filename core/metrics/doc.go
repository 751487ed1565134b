// Package metrics defines the sink contract used to observe dispatch
// activity. A sink must record dispatch passes and may implement any of the
// optional recorder interfaces (acceptances, transitions, availability,
// fleet status). Sinks are built from configuration through the factory
// registry; several configured sinks are combined in a MultiSink.
package metrics
