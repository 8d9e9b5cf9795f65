/*
Package session serialises access to stored runs.

A Manager wraps a ports.RunStore with per-run locks, so concurrent steps of the
same run (from the HTTP API, the MCP server or the CLI) never interleave. When a
ports.DistributedLocker is configured, the same guarantee extends across
replicas sharing a store.
*/
package session
