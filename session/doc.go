// Package session holds the per-thread conversation history.
//
// Store is the contract engines depend on; InMemoryStore is the process local
// implementation. Additional backends can live in sub-packages without changing
// calling code, only the wiring layer decides which implementation to use.
package session
