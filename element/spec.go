package element

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/jt05610/drawbot"
)

// Spec describes one Element in a machine profile. Exactly one field is set:
//
//	- microstep: 4
//	- stepper: 1.8
//	- leadscrew: 8
//	- invert: false
type Spec struct {
	Microstep *float64 `yaml:"microstep,omitempty" json:"microstep,omitempty"`
	Stepper   *float64 `yaml:"stepper,omitempty" json:"stepper,omitempty"`
	Leadscrew *float64 `yaml:"leadscrew,omitempty" json:"leadscrew,omitempty"`
	Pulley    *float64 `yaml:"pulley,omitempty" json:"pulley,omitempty"`
	Invert    *bool    `yaml:"invert,omitempty" json:"invert,omitempty"`
}

// Element builds the described stage.
func (s Spec) Element() (Element, error) {
	var ret Element
	set := 0
	if s.Microstep != nil {
		ret = Microstep(*s.Microstep)
		set++
	}
	if s.Stepper != nil {
		ret = Stepper(*s.Stepper)
		set++
	}
	if s.Leadscrew != nil {
		ret = Leadscrew(*s.Leadscrew)
		set++
	}
	if s.Pulley != nil {
		ret = Pulley(*s.Pulley)
		set++
	}
	if s.Invert != nil {
		ret = Invert(*s.Invert)
		set++
	}
	if set != 1 {
		return nil, errors.Errorf("element must set exactly one stage, got %d", set)
	}
	return ret, nil
}

// Build composes specs into a Chain.
func Build(specs []Spec) (*Chain, error) {
	elements := make([]Element, 0, len(specs))
	for i, s := range specs {
		e, err := s.Element()
		if err != nil {
			return nil, drawbot.NewConfigurationError(fmt.Sprintf("chain[%d]", i), err)
		}
		elements = append(elements, e)
	}
	return NewChain(elements...)
}
