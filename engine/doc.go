// Package engine implements the request-facing orchestration layer of stepmesh.
//
// The Engine drives a registered agent.Strategy (react or plan-execute) for
// one conversation thread at a time. It owns the pieces that are shared by all
// strategies: the per-thread conversation store, the execution-state
// registry, attachment preprocessing, run concurrency and lifecycle callbacks.
//
// # Run Lifecycle
//
//	Stream / Invoke
//	   │  validate strategy and input
//	   ▼
//	attachments ──(rejected)──► error event, no model call
//	   │
//	   ▼
//	registry.Reset ─► store.Assemble ─► before_run callback
//	   │
//	   ▼
//	strategy.Start ─► interrupted? ─► AutoResume ─► strategy.Continue
//	   │                    │
//	   │                    └─(no auto-resume)─► interrupt event, on_interrupt
//	   ▼
//	fold-back of the final assistant message ─► after_run callback
//
// A failed run folds the error text into history as an assistant message and
// emits exactly one error event, which is the last event of the stream.
//
// # Concurrency
//
// Each thread admits a single in-flight run (ErrThreadBusy otherwise). Runs
// across threads are bounded by Config.MaxConcurrentRuns using a weighted
// semaphore; callers block until a slot is free or their context ends.
//
// # Streaming
//
// Stream and Resume return raw core.Event values. Frames turns them into
// client frames through a stream.Transcoder, optionally publishing each frame
// on a message bus, and WriteSSE renders frames as server-sent events:
//
//	events, errs, err := e.Stream(ctx, "thread-1", []core.Content{core.UserText("3 더하기 2")})
//	if err != nil {
//		return err
//	}
//	return engine.WriteSSE(w, e.Frames(ctx, "thread-1", events, errs))
package engine
