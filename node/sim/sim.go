// Package sim provides an in-memory Axis Node for dry runs and tests.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/jt05610/drawbot/node"
)

var (
	_ node.Node           = (*Node)(nil)
	_ node.CurrentSetter  = (*Node)(nil)
	_ node.VelocitySetter = (*Node)(nil)
)

// Node simulates a stepper node. Remaining steps drain either by a fixed amount
// per status query or, by default, at the commanded rate against a clock.
type Node struct {
	name string

	mu           sync.Mutex
	clock        clock.Clock
	stepsPerPoll int64
	velocity     float64
	current      float64

	position  int64
	total     int64
	remaining int64
	rate      float64
	started   time.Time

	sends       []node.Command
	polls       int
	sendErr     error
	statusErr   error
	statusFails int
	onStatus    func()
}

type Option func(*Node)

// WithClock sets the time source used for rate-based draining.
func WithClock(c clock.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithStepsPerPoll drains a fixed number of steps on every status query.
func WithStepsPerPoll(steps int64) Option {
	return func(n *Node) { n.stepsPerPoll = steps }
}

// WithVelocity sets the rate used when a command does not carry one.
func WithVelocity(rate float64) Option {
	return func(n *Node) { n.velocity = rate }
}

// OnStatus registers a hook called at the start of every status query.
func OnStatus(f func()) Option {
	return func(n *Node) { n.onStatus = f }
}

func New(name string, opts ...Option) *Node {
	n := &Node{
		name:     name,
		clock:    clock.New(),
		velocity: 1000,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Node) Name() string { return n.name }

func (n *Node) Send(_ context.Context, cmd node.Command) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sends = append(n.sends, cmd)
	n.position += cmd.Steps
	n.total = cmd.Steps
	if n.total < 0 {
		n.total = -n.total
	}
	n.remaining = n.total
	n.rate = cmd.Rate
	if n.rate <= 0 {
		n.rate = n.velocity
	}
	n.started = n.clock.Now()
	return nil
}

func (n *Node) Status(ctx context.Context) (node.Status, error) {
	if n.onStatus != nil {
		n.onStatus()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.polls++
	if err := ctx.Err(); err != nil {
		return node.Status{}, err
	}
	if n.statusFails > 0 {
		n.statusFails--
		return node.Status{}, n.statusErr
	}
	if n.stepsPerPoll > 0 {
		n.remaining -= n.stepsPerPoll
	} else if n.rate > 0 {
		done := int64(math.Floor(n.clock.Since(n.started).Seconds() * n.rate))
		n.remaining = n.total - done
	}
	if n.remaining < 0 {
		n.remaining = 0
	}
	state := "Idle"
	if n.remaining > 0 {
		state = "Run"
	}
	return node.Status{
		Node:      n.name,
		Remaining: n.remaining,
		Position:  n.position - n.direction()*n.remaining,
		State:     state,
	}, nil
}

func (n *Node) direction() int64 {
	if len(n.sends) > 0 && n.sends[len(n.sends)-1].Steps < 0 {
		return -1
	}
	return 1
}

func (n *Node) SetMotorCurrent(_ context.Context, amps float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = amps
	return nil
}

func (n *Node) SetVelocity(_ context.Context, rate float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.velocity = rate
	return nil
}

// FailSends makes every following Send return err; nil restores normal
// operation.
func (n *Node) FailSends(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendErr = err
}

// FailStatus makes the next count status queries return err.
func (n *Node) FailStatus(count int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statusFails = count
	n.statusErr = err
}

// Sends returns every accepted command in order.
func (n *Node) Sends() []node.Command {
	n.mu.Lock()
	defer n.mu.Unlock()
	ret := make([]node.Command, len(n.sends))
	copy(ret, n.sends)
	return ret
}

// Polls is the number of status queries answered or failed so far.
func (n *Node) Polls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.polls
}

// Position is the commanded step position.
func (n *Node) Position() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.position
}

func (n *Node) Current() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *Node) Velocity() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.velocity
}
