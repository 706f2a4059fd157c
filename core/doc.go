// Package core provides the foundational domain types shared by every
// stepmesh component:
//
//   - Content / Part (role based messages with text, image and tool parts)
//   - Event (one ordered unit of progress emitted by a running graph)
//   - Plan / PastStep / Action (plan-execute bookkeeping)
//   - ExecutionState / Phase (per-thread progress metadata)
//
// The package holds no orchestration logic; engines, stores and transcoders
// depend on these types so they can be wired together without import cycles.
package core
