// Package handler provides the daemon's HTTP surface: the guarded invoke
// endpoint and the operator endpoints for breaker/limiter inspection and
// bulk reset.
package handler
