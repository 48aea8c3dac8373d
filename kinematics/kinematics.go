// Package kinematics maps machine-frame moves onto physical axes.
package kinematics

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/jt05610/drawbot"
)

// Stage maps a machine-frame vector to one distance per physical axis.
// Implementations must be pure.
type Stage interface {
	Axes() int
	Map(machine []float64) ([]float64, error)
}

// ErrDimension is returned when a vector does not match the stage.
var ErrDimension = errors.New("vector dimension mismatch")

// Linear is a Stage that multiplies the machine vector by a square matrix.
type Linear struct {
	name string
	m    *mat.Dense
}

// NewLinear validates m. The matrix must be square and invertible so physical
// positions can always be traced back to a machine position.
func NewLinear(name string, m *mat.Dense) (*Linear, error) {
	r, c := m.Dims()
	if r != c {
		return nil, drawbot.NewConfigurationError("kinematics", errors.Errorf("%s: matrix must be square, got %dx%d", name, r, c))
	}
	if mat.Det(m) == 0 {
		return nil, drawbot.NewConfigurationError("kinematics", errors.Errorf("%s: matrix is singular", name))
	}
	return &Linear{name: name, m: mat.DenseCopyOf(m)}, nil
}

// Direct is the identity stage: machine axis i drives physical axis i.
// n must be at least 1.
func Direct(n int) *Linear {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return &Linear{name: "direct", m: m}
}

func (l *Linear) Name() string { return l.name }

func (l *Linear) Axes() int {
	r, _ := l.m.Dims()
	return r
}

func (l *Linear) Map(machine []float64) ([]float64, error) {
	n := l.Axes()
	if len(machine) != n {
		return nil, errors.Wrapf(ErrDimension, "%s kinematics: expected %d components, got %d", l.name, n, len(machine))
	}
	out := mat.NewVecDense(n, nil)
	out.MulVec(l.m, mat.NewVecDense(n, append([]float64(nil), machine...)))
	return out.RawVector().Data, nil
}
