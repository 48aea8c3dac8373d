// Package node defines the contract for addressable motor-driver nodes and the
// compound grouping that keeps mechanically coupled nodes in lock-step.
package node

import (
	"context"
	"sync"
)

// Command is a single relative move for one node.
type Command struct {
	// MoveID identifies the machine move this command belongs to.
	MoveID string
	// Steps is the signed micro-step delta to execute.
	Steps int64
	// Rate is the requested step rate in steps per second.
	Rate float64
}

// Status is what a node reports about its current move.
type Status struct {
	Node      string
	Remaining int64
	Position  int64
	State     string
}

// Node is one physical controller reachable over the network transport.
// Send is fire-and-forget with respect to motion: it returns once the node has
// accepted the command, not when the move is complete.
type Node interface {
	Name() string
	Send(ctx context.Context, cmd Command) error
	Status(ctx context.Context) (Status, error)
}

// CurrentSetter is implemented by nodes whose driver current can be set.
type CurrentSetter interface {
	SetMotorCurrent(ctx context.Context, amps float64) error
}

// VelocitySetter is implemented by nodes that keep a default step rate.
type VelocitySetter interface {
	SetVelocity(ctx context.Context, rate float64) error
}

// Group is implemented by nodes that stand for several physical nodes.
type Group interface {
	Members() []Node
}

// Flatten expands groups into their member nodes and drops duplicates while
// keeping first-seen order.
func Flatten(nodes ...Node) []Node {
	ret := make([]Node, 0, len(nodes))
	seen := make(map[string]bool)
	var walk func(n Node)
	walk = func(n Node) {
		if g, ok := n.(Group); ok {
			for _, m := range g.Members() {
				walk(m)
			}
			return
		}
		if seen[n.Name()] {
			return
		}
		seen[n.Name()] = true
		ret = append(ret, n)
	}
	for _, n := range nodes {
		walk(n)
	}
	return ret
}

// Result is the outcome of one node's part in a fan-out.
type Result struct {
	Node string
	Err  error
}

// FanOut calls do for every node concurrently and waits for all of them.
// Results are returned in the order of nodes.
func FanOut(ctx context.Context, nodes []Node, do func(ctx context.Context, n Node) error) []Result {
	ret := make([]Result, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n Node) {
			defer wg.Done()
			ret[i] = Result{Node: n.Name(), Err: do(ctx, n)}
		}(i, n)
	}
	wg.Wait()
	return ret
}

// Split partitions results into acknowledging and failing node names.
func Split(results []Result) (acked, failed []string) {
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r.Node)
		} else {
			acked = append(acked, r.Node)
		}
	}
	return acked, failed
}
