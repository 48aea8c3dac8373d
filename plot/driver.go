package plot

import (
	"context"

	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jt05610/drawbot"
)

// Operator checkpoint messages.
const (
	RemovePen = "Remove the pen and press enter"
	InsertPen = "Insert the pen and press enter"
	Finished  = "Finished drawing! Remove the pen and press enter to continue"
)

// Mover is the part of the machine the driver needs.
type Mover interface {
	Move(ctx context.Context, target []float64, rate float64) error
}

// Confirmer blocks until the operator acknowledges message.
type Confirmer interface {
	Confirm(ctx context.Context, message string) error
}

// Mapping turns a point into a machine vector, one expression per machine
// axis.
type Mapping struct {
	src      []string
	programs []*vm.Program
}

// DefaultMapping drives both X motors from x: [x, x, y].
var DefaultMapping = []string{"x", "x", "y"}

func NewMapping(exprs ...string) (*Mapping, error) {
	if len(exprs) == 0 {
		exprs = DefaultMapping
	}
	m := &Mapping{src: exprs, programs: make([]*vm.Program, len(exprs))}
	for i, src := range exprs {
		p, err := compileFloat(src, pointEnv())
		if err != nil {
			return nil, drawbot.NewConfigurationError("plot.map", err)
		}
		if p == nil {
			return nil, drawbot.NewConfigurationError("plot.map", errors.Errorf("expression %d is empty", i))
		}
		m.programs[i] = p
	}
	return m, nil
}

func (m *Mapping) Dim() int { return len(m.programs) }

func (m *Mapping) Apply(pt Point) ([]float64, error) {
	env := map[string]interface{}{"x": pt.X, "y": pt.Y}
	ret := make([]float64, len(m.programs))
	for i, p := range m.programs {
		v, err := eval(p, env, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "map %q", m.src[i])
		}
		ret[i] = v
	}
	return ret, nil
}

// Driver draws a path with operator checkpoints before, during and after.
type Driver struct {
	Machine Mover
	Confirm Confirmer
	Map     *Mapping
	// Home is where the machine returns after drawing. Nil means the origin.
	Home   []float64
	Rate   float64
	Logger *zap.Logger
	// Progress, when set, is called after each drawn point.
	Progress func(done, total int)
}

// Run maps every point up front, so a bad point aborts before any motion, and
// then draws them in order.
func (d *Driver) Run(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return &drawbot.InputFormatError{Err: ErrEmpty}
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := d.Map
	if m == nil {
		var err error
		if m, err = NewMapping(); err != nil {
			return err
		}
	}
	targets := make([][]float64, len(points))
	for i, pt := range points {
		v, err := m.Apply(pt)
		if err == nil {
			err = errors.Wrap(finite(v...), "map")
		}
		if err != nil {
			return &drawbot.InputFormatError{Line: i + 1, Err: err}
		}
		targets[i] = v
	}
	home := d.Home
	if home == nil {
		home = make([]float64, m.Dim())
	}

	if err := d.Confirm.Confirm(ctx, RemovePen); err != nil {
		return err
	}
	logger.Info("moving to first point", zap.Float64s("target", targets[0]))
	if err := d.Machine.Move(ctx, targets[0], d.Rate); err != nil {
		return err
	}
	if err := d.Confirm.Confirm(ctx, InsertPen); err != nil {
		return err
	}
	for i, t := range targets {
		if err := d.Machine.Move(ctx, t, d.Rate); err != nil {
			logger.Error("drawing aborted", zap.Int("point", i+1), zap.Error(err))
			return err
		}
		if d.Progress != nil {
			d.Progress(i+1, len(targets))
		}
	}
	logger.Info("drawing finished", zap.Int("points", len(targets)))
	if err := d.Confirm.Confirm(ctx, Finished); err != nil {
		return err
	}
	return d.Machine.Move(ctx, home, d.Rate)
}
