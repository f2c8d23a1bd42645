/*
Package ports defines the driven ports (interfaces) of the goop engine.

These interfaces decouple the workflow core from external implementations, so
the engine works with any model backend, action catalog or checkpoint store.

# Key Interfaces

  - CheckpointStore: Persists and loads session Checkpoints.
  - DistributedLocker: Provides exclusive session access across instances.
  - ModelBackend: Produces an assistant message from a history and an action catalog.
  - ActionCatalog: Lists and invokes the actions available to the model.
*/
package ports
