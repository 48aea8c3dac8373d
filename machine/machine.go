// Package machine composes axes, drives and kinematics into a virtual machine
// that moves one target at a time and only commits positions it has seen
// completed.
package machine

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jt05610/drawbot"
	"github.com/jt05610/drawbot/kinematics"
	"github.com/jt05610/drawbot/node"
)

type Config struct {
	Name   string
	Axes   []Axis
	Drives []Drive
	// Stage defaults to Direct over all axes.
	Stage kinematics.Stage
	Units string
	// Velocity is the default rate in units per second.
	Velocity   float64
	Poll       Poll
	Completion Completion
	Observers  []Observer
	Logger     *zap.Logger
}

// Machine is the host-facing surface of a plotting machine.
type Machine struct {
	name   string
	logger *zap.Logger
	coord  *Coordinate
	disp   *Dispatcher
	nodes  []node.Node

	mu       sync.RWMutex
	velocity float64
	spindle  float64
}

func New(cfg Config) (*Machine, error) {
	if len(cfg.Axes) == 0 {
		return nil, drawbot.NewConfigurationError("axes", errors.New("machine needs at least one axis"))
	}
	if cfg.Velocity < 0 || math.IsNaN(cfg.Velocity) {
		return nil, drawbot.NewConfigurationError("velocity", errors.Errorf("invalid velocity %v", cfg.Velocity))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Poll == (Poll{}) {
		cfg.Poll = DefaultPoll
	}
	coord := NewCoordinate(len(cfg.Axes), cfg.Units)
	disp, err := newDispatcher(cfg, coord)
	if err != nil {
		return nil, err
	}
	m := &Machine{
		name:     cfg.Name,
		logger:   cfg.Logger,
		coord:    coord,
		disp:     disp,
		velocity: cfg.Velocity,
	}
	for _, dr := range cfg.Drives {
		m.nodes = append(m.nodes, dr.Node)
	}
	return m, nil
}

func (m *Machine) Name() string { return m.name }

func (m *Machine) Units() string { return m.coord.Units() }

func (m *Machine) Dim() int { return m.coord.Dim() }

// Nodes returns the drive nodes in configuration order.
func (m *Machine) Nodes() []node.Node {
	ret := make([]node.Node, len(m.nodes))
	copy(ret, m.nodes)
	return ret
}

// GetPosition returns the pending target, which equals the committed position
// when no move is in flight.
func (m *Machine) GetPosition() []float64 { return m.coord.Future() }

// Current returns the last position confirmed by the nodes.
func (m *Machine) Current() []float64 { return m.coord.Current() }

// SetPosition records a new target without moving.
func (m *Machine) SetPosition(s Sparse) error { return m.coord.SetFuture(s) }

// SetSpindleSpeed stores the requested spindle fraction. Drawing machines have
// no spindle so nothing is sent.
func (m *Machine) SetSpindleSpeed(fraction float64) error {
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) {
		return errors.Errorf("spindle speed must be within [0, 1], got %v", fraction)
	}
	m.mu.Lock()
	m.spindle = fraction
	m.mu.Unlock()
	m.logger.Debug("spindle speed ignored", zap.Float64("fraction", fraction))
	return nil
}

func (m *Machine) SpindleSpeed() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spindle
}

// SetMotorCurrent forwards amps to every node that supports it.
func (m *Machine) SetMotorCurrent(ctx context.Context, amps float64) error {
	if amps < 0 || math.IsNaN(amps) {
		return errors.Errorf("invalid motor current %v", amps)
	}
	var err error
	for _, n := range m.nodes {
		if s, ok := n.(node.CurrentSetter); ok {
			err = multierr.Append(err, s.SetMotorCurrent(ctx, amps))
		}
	}
	return err
}

// SetVelocity changes the default rate and pushes it to the nodes in steps per
// second of their first axis.
func (m *Machine) SetVelocity(ctx context.Context, rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return errors.Errorf("velocity must be positive, got %v", rate)
	}
	m.mu.Lock()
	m.velocity = rate
	m.mu.Unlock()
	var err error
	for _, dr := range m.disp.drives {
		if s, ok := dr.node.(node.VelocitySetter); ok {
			steps := rate * m.disp.axes[dr.axes[0]].Chain.StepsPerUnit()
			err = multierr.Append(err, s.SetVelocity(ctx, math.Abs(steps)))
		}
	}
	return err
}

func (m *Machine) Velocity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.velocity
}

func (m *Machine) rate(r float64) float64 {
	if r > 0 {
		return r
	}
	return m.Velocity()
}

// Move blocks until target is reached. A zero rate uses the machine velocity.
func (m *Machine) Move(ctx context.Context, target []float64, rate float64) error {
	return m.disp.Move(ctx, target, m.rate(rate))
}

// Jog moves by delta from the committed position.
func (m *Machine) Jog(ctx context.Context, delta []float64, rate float64) error {
	return m.disp.Jog(ctx, delta, m.rate(rate))
}

// MoveTo applies a sparse target on top of the committed position.
func (m *Machine) MoveTo(ctx context.Context, s Sparse, rate float64) error {
	target, err := merge(m.coord.Current(), s)
	if err != nil {
		return err
	}
	return m.Move(ctx, target, rate)
}

func (m *Machine) State() State { return m.disp.State() }

func (m *Machine) Reset() error { return m.disp.Reset() }
