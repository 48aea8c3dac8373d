package node

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/jt05610/drawbot"
)

var _ Node = (*Compound)(nil)
var _ Group = (*Compound)(nil)

// Compound fans one logical command out to several nodes that must move
// together, like the two motors of a gantry axis. It references its members
// but does not own them.
type Compound struct {
	name           string
	members        []Node
	representative int
}

// NewCompound groups members under name. Members must be distinct.
func NewCompound(name string, members ...Node) (*Compound, error) {
	if len(members) == 0 {
		return nil, drawbot.NewConfigurationError(name, errors.New("compound node needs at least one member"))
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if seen[m.Name()] {
			return nil, drawbot.NewConfigurationError(name, errors.Errorf("node %q appears twice", m.Name()))
		}
		seen[m.Name()] = true
	}
	return &Compound{name: name, members: members}, nil
}

// WithRepresentative selects which member answers Status.
func (c *Compound) WithRepresentative(name string) (*Compound, error) {
	for i, m := range c.members {
		if m.Name() == name {
			c.representative = i
			return c, nil
		}
	}
	return nil, drawbot.NewConfigurationError(c.name, errors.Errorf("representative %q is not a member", name))
}

func (c *Compound) Name() string { return c.name }

func (c *Compound) Members() []Node {
	ret := make([]Node, len(c.members))
	copy(ret, c.members)
	return ret
}

// Representative is the member whose status stands for the group.
func (c *Compound) Representative() Node {
	return c.members[c.representative]
}

// Send delivers cmd, unchanged, to every member in the same tick. If only some
// members accept it the group is out of step and a SynchronizationError is
// returned.
func (c *Compound) Send(ctx context.Context, cmd Command) error {
	results := FanOut(ctx, c.members, func(ctx context.Context, n Node) error {
		return n.Send(ctx, cmd)
	})
	var err error
	for _, r := range results {
		err = multierr.Append(err, r.Err)
	}
	if err == nil {
		return nil
	}
	acked, failed := Split(results)
	if len(acked) == 0 {
		return &drawbot.TransportError{Node: c.name, Op: "send", Err: err}
	}
	return &drawbot.SynchronizationError{Group: c.name, Acked: acked, Failed: failed, Err: err}
}

// Status reports the representative member only.
func (c *Compound) Status(ctx context.Context) (Status, error) {
	return c.Representative().Status(ctx)
}

// SetMotorCurrent forwards to every member that supports it.
func (c *Compound) SetMotorCurrent(ctx context.Context, amps float64) error {
	var err error
	for _, m := range c.members {
		if s, ok := m.(CurrentSetter); ok {
			err = multierr.Append(err, s.SetMotorCurrent(ctx, amps))
		}
	}
	return err
}

// SetVelocity forwards to every member that supports it.
func (c *Compound) SetVelocity(ctx context.Context, rate float64) error {
	var err error
	for _, m := range c.members {
		if s, ok := m.(VelocitySetter); ok {
			err = multierr.Append(err, s.SetVelocity(ctx, rate))
		}
	}
	return err
}
