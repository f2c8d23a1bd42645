/*
Package domain contains the core domain models of the goop workflow engine.

It defines the conversation record threaded through every step, the node graph
identifiers, the review protocol types and the checkpoint snapshot. This package
is kept pure and free of I/O so that steps built on it stay testable in isolation.

# Key Entities

  - Message: A tagged union over system, human, assistant and action result messages.
  - ConversationState: The history plus the session's review policy.
  - ReviewRequest / ReviewResolution: The suspend and resume payloads of human review.
  - Checkpoint: The persisted snapshot a session resumes from.
  - OutputEvent: The incremental output of a run, consumed lazily by the host.
*/
package domain
