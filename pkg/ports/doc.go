/*
Package ports defines the driven ports (interfaces) of the session repository.

These interfaces decouple the repository from the grid it persists into, so the
same session semantics run on Redis, on the embedded in-memory store, or on any
other backend that honours the contract in RunSessionStoreContract.

# Key Interfaces

  - SessionStore: persists session records and applies partial updates.
  - EventSource: streams created, deleted and expired events from the store (the entry listener).
  - Sweeper: expires inactive sessions and reports them.
  - CapabilityProber: reports whether the store can apply updates server-side.
  - DistributedLocker: coordinates the fallback update path across replicas.
  - EventPublisher: receives session events on behalf of the application.
*/
package ports
