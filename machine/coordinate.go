package machine

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/jt05610/drawbot/kinematics"
)

// Sparse is a partially specified machine vector. Nil components keep their
// current value.
type Sparse []*float64

// Values builds a fully specified Sparse vector.
func Values(v ...float64) Sparse {
	ret := make(Sparse, len(v))
	for i := range v {
		x := v[i]
		ret[i] = &x
	}
	return ret
}

// Coordinate holds the committed position of the machine and the pending target
// of at most one move.
type Coordinate struct {
	mu        sync.RWMutex
	units     string
	committed []float64
	future    []float64
	inFlight  bool
}

// NewCoordinate starts a coordinate of n axes at the origin.
func NewCoordinate(n int, units string) *Coordinate {
	return &Coordinate{
		units:     units,
		committed: make([]float64, n),
		future:    make([]float64, n),
	}
}

func (c *Coordinate) Dim() int { return len(c.committed) }

func (c *Coordinate) Units() string { return c.units }

// Current returns a copy of the last confirmed position.
func (c *Coordinate) Current() []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clone(c.committed)
}

// Future returns a copy of the requested target.
func (c *Coordinate) Future() []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clone(c.future)
}

// SetFuture records a target without moving. Components left nil keep the
// current future value.
func (c *Coordinate) SetFuture(s Sparse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrBusy
	}
	next, err := merge(c.future, s)
	if err != nil {
		return err
	}
	c.future = next
	return nil
}

// begin locks in target as the future of the move about to be dispatched.
func (c *Coordinate) begin(target []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrBusy
	}
	if len(target) != len(c.committed) {
		return errors.Wrapf(kinematics.ErrDimension, "target has %d components, machine has %d", len(target), len(c.committed))
	}
	c.future = clone(target)
	c.inFlight = true
	return nil
}

func (c *Coordinate) commit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.committed, c.future)
	c.inFlight = false
}

// revert drops the future of a move that was never confirmed.
func (c *Coordinate) revert() {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.future, c.committed)
	c.inFlight = false
}

func merge(base []float64, s Sparse) ([]float64, error) {
	if len(s) > len(base) {
		return nil, errors.Wrapf(kinematics.ErrDimension, "update has %d components, machine has %d", len(s), len(base))
	}
	ret := clone(base)
	for i, v := range s {
		if v != nil {
			ret[i] = *v
		}
	}
	return ret, nil
}

func clone(v []float64) []float64 {
	ret := make([]float64, len(v))
	copy(ret, v)
	return ret
}
