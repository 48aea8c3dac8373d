// Package profile describes a machine in YAML: its nodes, axes, drive groups,
// kinematics and defaults.
package profile

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/jt05610/drawbot"
	"github.com/jt05610/drawbot/element"
	"github.com/jt05610/drawbot/kinematics"
	"github.com/jt05610/drawbot/machine"
	"github.com/jt05610/drawbot/node"
)

//go:embed drawing_machine.yaml
var drawingMachine []byte

type Profile struct {
	Name        string      `yaml:"name"`
	Units       string      `yaml:"units"`
	Velocity    float64     `yaml:"velocity"`
	Kinematics  string      `yaml:"kinematics"`
	Matrix      [][]float64 `yaml:"matrix,omitempty"`
	Completion  string      `yaml:"completion"`
	Poll        Poll        `yaml:"poll"`
	Persistence string      `yaml:"persistence"`
	Serial      Serial      `yaml:"serial"`
	Nodes       []Node      `yaml:"nodes"`
	Axes        []Axis      `yaml:"axes"`
	Drives      []Drive     `yaml:"drives"`
	Plot        Plot        `yaml:"plot"`
}

type Poll struct {
	Interval time.Duration `yaml:"interval"`
	Retries  int           `yaml:"retries"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
	Link string `yaml:"link"`
}

type Node struct {
	Name string `yaml:"name"`
}

type Axis struct {
	Name  string         `yaml:"name"`
	Chain []element.Spec `yaml:"chain"`
}

// Drive groups nodes that move together over one or more axes. A drive with
// several nodes becomes a compound node.
type Drive struct {
	Name           string   `yaml:"name"`
	Nodes          []string `yaml:"nodes"`
	Axes           []string `yaml:"axes"`
	Representative string   `yaml:"representative,omitempty"`
}

// Plot maps a 2-D point onto the machine vector. Each entry of Map is an
// expression over x and y.
type Plot struct {
	Map  []string  `yaml:"map"`
	Home []float64 `yaml:"home"`
}

// Default returns the built-in two-X-motor drawing machine.
func Default() *Profile {
	p, err := Parse(strings.NewReader(string(drawingMachine)))
	if err != nil {
		panic(err)
	}
	return p
}

func Load(path string) (*Profile, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, drawbot.NewConfigurationError("profile", err)
	}
	defer in.Close()
	return Parse(in)
}

func Parse(r io.Reader) (*Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, drawbot.NewConfigurationError("profile", errors.Wrap(err, "decode"))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func invalid(field, format string, args ...interface{}) error {
	return drawbot.NewConfigurationError(field, errors.Errorf(format, args...))
}

// Validate checks references between nodes, axes and drives.
func (p *Profile) Validate() error {
	if len(p.Axes) == 0 {
		return invalid("axes", "at least one axis is required")
	}
	if p.Velocity < 0 {
		return invalid("velocity", "must not be negative, got %v", p.Velocity)
	}
	nodes := make(map[string]bool, len(p.Nodes))
	for i, n := range p.Nodes {
		if n.Name == "" {
			return invalid(fmt.Sprintf("nodes[%d]", i), "missing name")
		}
		if nodes[n.Name] {
			return invalid(fmt.Sprintf("nodes[%d]", i), "duplicate node %q", n.Name)
		}
		nodes[n.Name] = true
	}
	axes := make(map[string]bool, len(p.Axes))
	for i, a := range p.Axes {
		if a.Name == "" {
			return invalid(fmt.Sprintf("axes[%d]", i), "missing name")
		}
		if axes[a.Name] {
			return invalid(fmt.Sprintf("axes[%d]", i), "duplicate axis %q", a.Name)
		}
		axes[a.Name] = true
	}
	for i, d := range p.Drives {
		field := fmt.Sprintf("drives[%d]", i)
		if len(d.Nodes) == 0 || len(d.Axes) == 0 {
			return invalid(field, "drive needs nodes and axes")
		}
		for _, n := range d.Nodes {
			if !nodes[n] {
				return invalid(field, "unknown node %q", n)
			}
		}
		for _, a := range d.Axes {
			if !axes[a] {
				return invalid(field, "unknown axis %q", a)
			}
		}
		if len(d.Nodes) > 1 && d.Name == "" {
			return invalid(field, "drive with several nodes needs a name")
		}
	}
	switch p.Kinematics {
	case "", "direct":
	case "linear":
		if len(p.Matrix) != len(p.Axes) {
			return invalid("matrix", "expected %d rows, got %d", len(p.Axes), len(p.Matrix))
		}
	default:
		return invalid("kinematics", "unknown kinematics %q", p.Kinematics)
	}
	if len(p.Plot.Map) != 0 && len(p.Plot.Map) != len(p.Axes) {
		return invalid("plot.map", "expected %d expressions, got %d", len(p.Axes), len(p.Plot.Map))
	}
	if len(p.Plot.Home) != 0 && len(p.Plot.Home) != len(p.Axes) {
		return invalid("plot.home", "expected %d components, got %d", len(p.Axes), len(p.Plot.Home))
	}
	return nil
}

// NodeNames lists the physical nodes in declaration order.
func (p *Profile) NodeNames() []string {
	ret := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ret[i] = n.Name
	}
	return ret
}

// Stage builds the configured kinematics.
func (p *Profile) Stage() (kinematics.Stage, error) {
	if p.Kinematics != "linear" {
		return kinematics.Direct(len(p.Axes)), nil
	}
	n := len(p.Axes)
	data := make([]float64, 0, n*n)
	for i, row := range p.Matrix {
		if len(row) != n {
			return nil, invalid("matrix", "row %d has %d columns, expected %d", i, len(row), n)
		}
		data = append(data, row...)
	}
	return kinematics.NewLinear(p.Name, mat.NewDense(n, n, data))
}

func (p *Profile) completion() machine.Completion {
	if name, ok := strings.CutPrefix(p.Completion, "representative:"); ok {
		return machine.CompletionRepresentative(strings.TrimSpace(name))
	}
	return machine.CompletionAll()
}

// Config assembles a machine configuration around the given physical nodes,
// which must contain every node the profile names.
func (p *Profile) Config(nodes map[string]node.Node) (machine.Config, error) {
	cfg := machine.Config{
		Name:       p.Name,
		Units:      p.Units,
		Velocity:   p.Velocity,
		Completion: p.completion(),
		Poll: machine.Poll{
			Interval: p.Poll.Interval,
			Retries:  p.Poll.Retries,
			Timeout:  p.Poll.Timeout,
		},
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = machine.DefaultPoll.Interval
	}
	stage, err := p.Stage()
	if err != nil {
		return cfg, err
	}
	cfg.Stage = stage
	for i, a := range p.Axes {
		chain, err := element.Build(a.Chain)
		if err != nil {
			return cfg, drawbot.NewConfigurationError(fmt.Sprintf("axes[%d]", i), err)
		}
		cfg.Axes = append(cfg.Axes, machine.Axis{Name: a.Name, Chain: chain})
	}
	for i, d := range p.Drives {
		members := make([]node.Node, len(d.Nodes))
		for j, name := range d.Nodes {
			n, ok := nodes[name]
			if !ok {
				return cfg, invalid(fmt.Sprintf("drives[%d]", i), "node %q was not provided", name)
			}
			members[j] = n
		}
		var drive node.Node = members[0]
		if len(members) > 1 {
			c, err := node.NewCompound(d.Name, members...)
			if err != nil {
				return cfg, err
			}
			if d.Representative != "" {
				if c, err = c.WithRepresentative(d.Representative); err != nil {
					return cfg, err
				}
			}
			drive = c
		}
		cfg.Drives = append(cfg.Drives, machine.Drive{Node: drive, Axes: d.Axes})
	}
	return cfg, nil
}
