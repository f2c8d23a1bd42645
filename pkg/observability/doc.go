/*
Package observability provides lifecycle hooks for monitoring the engine.

Metrics exports Prometheus counters and histograms for node visits, action
calls, reviews and checkpoint writes. LogHooks writes the same events to a
structured logger.
*/
package observability
