package machine

import (
	"context"
	"time"
)

type EventKind string

const (
	MoveDispatched EventKind = "move.dispatched"
	MovePolled     EventKind = "move.polled"
	MoveCommitted  EventKind = "move.committed"
	MoveFailed     EventKind = "move.failed"
)

// Event describes one step in the life of a move.
type Event struct {
	Kind    EventKind
	MoveID  string
	Target  []float64
	Steps   []int64
	Polls   int
	Elapsed time.Duration
	Err     error
}

// Observer is notified synchronously from the dispatching goroutine and must
// not block for long.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }
