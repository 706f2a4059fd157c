// Package heuristic holds the deterministic rules that run ahead of model
// calls in the plan-execute strategy: the arithmetic fast path and the plan
// relevance check. Both are pure and independently testable; their keyword
// sets are configurable.
package heuristic
