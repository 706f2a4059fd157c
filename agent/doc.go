// Package agent contains the orchestration strategies stepmesh runs on top of
// the graph package:
//
//  1. React: the two-node tool-calling loop (call_model, tools)
//  2. PlanExecute: planner, execute, replan and final_report, where every
//     execute step runs an embedded React agent on one task
//
// Both implement Strategy so the engine can start, suspend and resume them
// uniformly. Node names double as the phase keys reported to the execution
// registry (see package execution).
//
// Design principles:
//   - Recoverable failures become node fallbacks: an unparsable plan falls
//     back to a generic plan, a failed step records its error as the result
//   - Explicit wiring: catalogs, executors, prompt libraries and checkpoint
//     stores are injected through Options
//   - Streaming first: model deltas are emitted as partial events and every
//     complete message follows as a content event
package agent
