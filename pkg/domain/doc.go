/*
Package domain contains the core types of the Pergola agent runtime.

It defines the run state threaded through every node, the sparse patches node
executors return, the declarative graph definition and the run record that the
upward API persists. The package is pure: no I/O, no persistence, no model
calls.

# Key Entities

  - State: the typed snapshot of one run (input, messages, todos, budget, signals).
  - Patch: the sparse update a node returns; absent fields are untouched by the reducer.
  - GraphDefinition: nodes with a kind and configuration, connected by (optionally ported) edges.
  - Run: a State plus its identity, position in the graph and step counter.
  - LifecycleHooks: callbacks for observability (node enter/leave, model calls, routing).
*/
package domain
