/*
Package observability provides tools for monitoring the session repository.

It includes Prometheus metrics fed by session events and repository writes,
a structured-logging event publisher, and a fan-out that feeds several
publishers from one event stream.
*/
package observability
