package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/stepmesh/checkpoint"
	"github.com/hupe1980/stepmesh/core"
	"github.com/hupe1980/stepmesh/logging"
)

// End is the terminal pseudo node.
const End = "__end__"

var (
	// ErrStepLimit is returned when a run exceeds its step ceiling.
	ErrStepLimit = errors.New("graph step limit reached")
	// ErrUnknownNode is returned when an edge targets a node that was never added.
	ErrUnknownNode = errors.New("unknown graph node")
	// ErrStaleHandle is returned when a handle does not name the latest
	// checkpoint of its thread.
	ErrStaleHandle = errors.New("stale resume handle")
	// ErrNotResumable is returned when the latest checkpoint has no pending node.
	ErrNotResumable = errors.New("run is not resumable")
)

// NodeFunc executes one node. It returns the updated state.
type NodeFunc[S any] func(ctx context.Context, state S, scope *Scope) (S, error)

// Router picks the next node from the state after a node completed.
type Router[S any] func(state S) string

// Tracker observes node entries. The execution registry implements it.
type Tracker interface {
	Enter(threadID, node string) core.ExecutionState
}

// Options configures a Graph.
type Options struct {
	// Name identifies the graph in checkpoints. A handle created by one graph
	// cannot resume another.
	Name string
	// MaxSteps bounds the node executions of one run (0 = unlimited).
	MaxSteps int
	// InterruptBefore suspends the run before these nodes execute.
	InterruptBefore []string
	// InterruptAfter suspends the run after these nodes complete.
	InterruptAfter []string
	// Checkpoints stores a snapshot after every node. Nil disables
	// checkpointing, which also disables interrupts.
	Checkpoints checkpoint.Store
	// Tracker is informed about every node entry.
	Tracker Tracker
	Logger  logging.Logger
}

// Graph is a compiled state machine over S.
//
// S is checkpointed by deep copy, so it should be a plain data type (usually
// a pointer to a struct) without channels or functions.
type Graph[S any] struct {
	entry  string
	nodes  map[string]NodeFunc[S]
	edges  map[string]string
	routes map[string]Router[S]
	before map[string]bool
	after  map[string]bool
	opts   Options
}

// New creates a Graph starting at entry.
func New[S any](entry string, optFns ...func(o *Options)) *Graph[S] {
	opts := Options{Name: "graph", Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	g := &Graph[S]{
		entry:  entry,
		nodes:  make(map[string]NodeFunc[S]),
		edges:  make(map[string]string),
		routes: make(map[string]Router[S]),
		before: make(map[string]bool),
		after:  make(map[string]bool),
		opts:   opts,
	}
	for _, n := range opts.InterruptBefore {
		g.before[n] = true
	}
	for _, n := range opts.InterruptAfter {
		g.after[n] = true
	}
	return g
}

// Name returns the graph name.
func (g *Graph[S]) Name() string { return g.opts.Name }

// AddNode registers a node.
func (g *Graph[S]) AddNode(name string, fn NodeFunc[S]) *Graph[S] {
	g.nodes[name] = fn
	return g
}

// AddEdge adds a static transition.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.edges[from] = to
	return g
}

// AddConditionalEdges routes from a node through r. It takes precedence over
// a static edge from the same node.
func (g *Graph[S]) AddConditionalEdges(from string, r Router[S]) *Graph[S] {
	g.routes[from] = r
	return g
}

// Validate checks that the entry and every static edge name known nodes.
func (g *Graph[S]) Validate() error {
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("%w: entry %q", ErrUnknownNode, g.entry)
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("%w: edge source %q", ErrUnknownNode, from)
		}
		if _, ok := g.nodes[to]; !ok && to != End {
			return fmt.Errorf("%w: edge target %q", ErrUnknownNode, to)
		}
	}
	return nil
}

// next resolves the node following from. Nodes without outgoing edges end the run.
func (g *Graph[S]) next(from string, state S) string {
	if r, ok := g.routes[from]; ok {
		if to := r(state); to != "" {
			return to
		}
		return End
	}
	if to, ok := g.edges[from]; ok {
		return to
	}
	return End
}
