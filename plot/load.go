// Package plot loads point files and draws them one point at a time.
package plot

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/jt05610/drawbot"
)

// Point is one target in the drawing plane.
type Point struct {
	X, Y float64
}

// ErrEmpty is returned for a point file without any points.
var ErrEmpty = errors.New("no points")

// Transform rewrites every point as it is loaded. X and Y are expressions over
// the original x and y, for example "x * 0.5" or "y + 20". An empty expression
// keeps the coordinate.
type Transform struct {
	X string
	Y string
}

type compiled struct {
	x, y *vm.Program
}

func compileFloat(src string, env map[string]interface{}) (*vm.Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	return expr.Compile(src, expr.Env(env), expr.AsFloat64())
}

func pointEnv() map[string]interface{} {
	return map[string]interface{}{"x": 0.0, "y": 0.0}
}

func (t Transform) compile() (*compiled, error) {
	x, err := compileFloat(t.X, pointEnv())
	if err != nil {
		return nil, drawbot.NewConfigurationError("transform.x", err)
	}
	y, err := compileFloat(t.Y, pointEnv())
	if err != nil {
		return nil, drawbot.NewConfigurationError("transform.y", err)
	}
	return &compiled{x: x, y: y}, nil
}

func eval(p *vm.Program, env map[string]interface{}, fallback float64) (float64, error) {
	if p == nil {
		return fallback, nil
	}
	out, err := expr.Run(p, env)
	if err != nil {
		return 0, err
	}
	return out.(float64), nil
}

func finite(v ...float64) error {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.Errorf("%v is not a finite coordinate", f)
		}
	}
	return nil
}

func (c *compiled) apply(pt Point) (Point, error) {
	env := map[string]interface{}{"x": pt.X, "y": pt.Y}
	x, err := eval(c.x, env, pt.X)
	if err != nil {
		return Point{}, err
	}
	y, err := eval(c.y, env, pt.Y)
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y}, nil
}

// Load reads "x,y" records. Blank lines and lines starting with # are skipped.
// Every record is validated before any point is returned.
func Load(r io.Reader, t Transform) ([]Point, error) {
	c, err := t.compile()
	if err != nil {
		return nil, err
	}
	rd := csv.NewReader(r)
	rd.Comment = '#'
	rd.FieldsPerRecord = -1
	rd.TrimLeadingSpace = true
	var ret []Point
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var line int
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return nil, &drawbot.InputFormatError{Line: line, Record: rec, Err: err}
		}
		line, _ := rd.FieldPos(0)
		if len(rec) != 2 {
			return nil, &drawbot.InputFormatError{Line: line, Record: rec, Err: errors.Errorf("expected 2 fields, got %d", len(rec))}
		}
		var v [2]float64
		for i, f := range rec {
			d, err := decimal.NewFromString(strings.TrimSpace(f))
			if err != nil {
				return nil, &drawbot.InputFormatError{Line: line, Record: rec, Err: err}
			}
			v[i] = d.InexactFloat64()
		}
		if err := finite(v[:]...); err != nil {
			return nil, &drawbot.InputFormatError{Line: line, Record: rec, Err: err}
		}
		pt, err := c.apply(Point{X: v[0], Y: v[1]})
		if err == nil {
			err = errors.Wrap(finite(pt.X, pt.Y), "transform")
		}
		if err != nil {
			return nil, &drawbot.InputFormatError{Line: line, Record: rec, Err: err}
		}
		ret = append(ret, pt)
	}
	if len(ret) == 0 {
		return nil, &drawbot.InputFormatError{Err: ErrEmpty}
	}
	return ret, nil
}

func LoadFile(path string, t Transform) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, t)
}
