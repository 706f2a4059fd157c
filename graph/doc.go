// Package graph runs small state machines of named nodes over a typed state.
//
// A Graph[S] has an entry node, static and conditional edges, an optional
// step ceiling and two sets of interrupt points. Interrupt points are the
// only places a run suspends: Run returns an interrupted Result carrying a
// Handle, and Resume continues from the checkpoint the handle names. Every
// completed node is checkpointed, so a handle stays valid only while it
// names the latest checkpoint of its thread.
package graph
