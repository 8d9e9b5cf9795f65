/*
Package ports defines the driven ports (interfaces) of the pergola engine.

These interfaces decouple graph execution from the model provider, the memory
backend, graph sources and run persistence.

# Key Interfaces

  - ModelInvoker: sends a message history to a language model and returns its text.
  - MemoryStore: records transcript entries and answers relevance searches.
  - GraphLoader: resolves graph definitions by name (templates, files, Loam).
  - RunStore: persists runs so they can be stepped and resumed later.
  - DistributedLocker: coordinates access to one run across replicas.

Reusable contract suites (RunRunStoreContract, RunMemoryStoreContract,
RunGraphLoaderContract) verify that an adapter honours its port.
*/
package ports
