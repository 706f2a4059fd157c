// Package checkpoint stores resumable snapshots of suspended graph runs.
//
// Store is the contract the graph runner depends on. InMemoryStore keeps
// checkpoints in process memory only; a restart loses every in-flight run.
// Durable backends can implement Store in sub-packages without touching the
// runner.
package checkpoint
