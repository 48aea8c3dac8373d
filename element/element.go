// Package element converts linear travel into motor steps.
//
// A Chain is an ordered list of Elements. Each Element is one mechanical or
// electrical stage (micro-stepping driver, stepper motor, lead screw, pulley,
// direction inversion). Forward conversions run from travel towards the motor
// and the chain's final value is a micro-step count.
package element

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/jt05610/drawbot"
)

// Element is a single invertible transform stage.
type Element interface {
	Name() string
	Forward(v float64) float64
	Inverse(v float64) float64
}

// scale is an Element whose forward conversion multiplies by a constant gain.
type scale struct {
	name string
	arg  float64
	gain float64
}

func (s *scale) Name() string { return s.name }

func (s *scale) Forward(v float64) float64 { return v * s.gain }

func (s *scale) Inverse(v float64) float64 { return v / s.gain }

func (s *scale) String() string { return fmt.Sprintf("%s(%g)", s.name, s.arg) }

// Microstep multiplies full steps into driver micro-steps.
func Microstep(perStep float64) Element {
	return &scale{name: "microstep", arg: perStep, gain: perStep}
}

// Stepper converts revolutions into full steps for a motor with the given step
// angle in degrees.
func Stepper(stepAngle float64) Element {
	return &scale{name: "stepper", arg: stepAngle, gain: 360 / stepAngle}
}

// Leadscrew converts linear travel into revolutions for a screw advancing lead
// units per revolution.
func Leadscrew(lead float64) Element {
	return &scale{name: "leadscrew", arg: lead, gain: 1 / lead}
}

// Pulley converts belt travel into revolutions for a pulley with the given
// pitch circumference.
func Pulley(circumference float64) Element {
	return &scale{name: "pulley", arg: circumference, gain: 1 / circumference}
}

type invert bool

func (i invert) Name() string { return "invert" }

func (i invert) Forward(v float64) float64 {
	if i {
		return -v
	}
	return v
}

func (i invert) Inverse(v float64) float64 { return i.Forward(v) }

func (i invert) String() string { return fmt.Sprintf("invert(%t)", bool(i)) }

// Invert flips the direction of travel when on is set.
func Invert(on bool) Element {
	return invert(on)
}

// Chain composes Elements left to right.
type Chain struct {
	elements []Element
	gain     float64
}

// NewChain validates and composes elements. A chain that cannot be inverted
// is rejected here rather than at first use.
func NewChain(elements ...Element) (*Chain, error) {
	if len(elements) == 0 {
		return nil, drawbot.NewConfigurationError("chain", errors.New("no elements"))
	}
	c := &Chain{elements: elements, gain: 1}
	for i, e := range elements {
		if s, ok := e.(*scale); ok {
			if math.IsNaN(s.arg) || math.IsInf(s.arg, 0) || s.arg <= 0 {
				return nil, drawbot.NewConfigurationError(
					fmt.Sprintf("chain[%d]", i),
					errors.Errorf("%s factor must be finite and positive, got %g", s.name, s.arg),
				)
			}
		}
		// probe the composed function with a unit value; any element that
		// collapses or explodes it makes the chain non-invertible
		g := e.Forward(1)
		if g == 0 || math.IsNaN(g) || math.IsInf(g, 0) {
			return nil, drawbot.NewConfigurationError(
				fmt.Sprintf("chain[%d]", i),
				errors.Errorf("%s is not invertible", e.Name()),
			)
		}
		c.gain = e.Forward(c.gain)
	}
	return c, nil
}

// MustChain is NewChain for fixed, known-good chains.
func MustChain(elements ...Element) *Chain {
	c, err := NewChain(elements...)
	if err != nil {
		panic(err)
	}
	return c
}

// MaxSteps bounds any step count a chain produces. Beyond 2^53 a float64 no
// longer holds every whole step.
const MaxSteps = 1 << 53

// ErrRange is returned for distances whose step count exceeds MaxSteps.
var ErrRange = errors.New("step count out of range")

// Steps converts distance into the nearest whole micro-step count.
func (c *Chain) Steps(distance float64) (int64, error) {
	v := distance
	for _, e := range c.elements {
		v = e.Forward(v)
	}
	v = math.Round(v)
	if math.IsNaN(v) || math.Abs(v) > MaxSteps {
		return 0, errors.Wrapf(ErrRange, "%v travels %v steps", distance, v)
	}
	return int64(v), nil
}

// Forward is Steps for distances known to be in range. Out of range values
// saturate at ±MaxSteps.
func (c *Chain) Forward(distance float64) int64 {
	n, err := c.Steps(distance)
	if err != nil {
		if distance*c.gain < 0 {
			return -MaxSteps
		}
		return MaxSteps
	}
	return n
}

// Inverse converts a step count back into distance.
func (c *Chain) Inverse(steps int64) float64 {
	v := float64(steps)
	for i := len(c.elements) - 1; i >= 0; i-- {
		v = c.elements[i].Inverse(v)
	}
	return v
}

// StepsPerUnit is the signed number of micro-steps per unit of travel.
func (c *Chain) StepsPerUnit() float64 {
	return c.gain
}

// Resolution is the travel produced by a single micro-step.
func (c *Chain) Resolution() float64 {
	return math.Abs(1 / c.gain)
}

// Elements returns the configured stages in order.
func (c *Chain) Elements() []Element {
	ret := make([]Element, len(c.elements))
	copy(ret, c.elements)
	return ret
}

func (c *Chain) String() string {
	parts := make([]string, len(c.elements))
	for i, e := range c.elements {
		if s, ok := e.(fmt.Stringer); ok {
			parts[i] = s.String()
		} else {
			parts[i] = e.Name()
		}
	}
	return strings.Join(parts, " -> ")
}
