// Package observability builds the zap loggers used across the orchestrator
// and attaches request identifiers to them.
package observability
