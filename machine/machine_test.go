package machine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jt05610/drawbot"
	"github.com/jt05610/drawbot/element"
	"github.com/jt05610/drawbot/machine"
	"github.com/jt05610/drawbot/node"
	"github.com/jt05610/drawbot/node/sim"
)

type rig struct {
	m         *machine.Machine
	x1, x2, y *sim.Node
	x         *node.Compound
	events    []machine.Event
}

func chain() *element.Chain {
	return element.MustChain(element.Microstep(4), element.Stepper(1.8), element.Leadscrew(8), element.Invert(false))
}

func newRig(t *testing.T, poll machine.Poll, completion machine.Completion, opts ...sim.Option) *rig {
	t.Helper()
	r := &rig{
		x1: sim.New("X1 Axis", opts...),
		x2: sim.New("X2 Axis", opts...),
		y:  sim.New("Y Axis", opts...),
	}
	x, err := node.NewCompound("x", r.x1, r.x2)
	if err != nil {
		t.Fatal(err)
	}
	r.x = x
	m, err := machine.New(machine.Config{
		Name: "drawing machine",
		Axes: []machine.Axis{
			{Name: "x1", Chain: chain()},
			{Name: "x2", Chain: chain()},
			{Name: "y", Chain: chain()},
		},
		Drives: []machine.Drive{
			{Node: x, Axes: []string{"x1", "x2"}},
			{Node: r.y, Axes: []string{"y"}},
		},
		Units:      "mm",
		Velocity:   10,
		Poll:       poll,
		Completion: completion,
		Observers: []machine.Observer{machine.ObserverFunc(func(_ context.Context, e machine.Event) {
			r.events = append(r.events, e)
		})},
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	r.m = m
	return r
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMachine_Plot(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, machine.DefaultPoll, machine.CompletionAll(), sim.WithStepsPerPoll(1<<20))
	points := [][2]float64{{10, 0}, {10, 10}, {0, 0}}
	expect := [][]float64{{10, 10, 0}, {10, 10, 10}, {0, 0, 0}}
	for i, p := range points {
		if err := r.m.Move(ctx, []float64{p[0], p[0], p[1]}, 0); err != nil {
			t.Fatal(err)
		}
		if got := r.m.Current(); !equal(got, expect[i]) {
			t.Fatalf("point %d: expected %v, got %v", i, expect[i], got)
		}
		if r.m.State() != machine.Idle {
			t.Fatalf("point %d: expected idle, got %s", i, r.m.State())
		}
	}
	for _, s := range []*sim.Node{r.x1, r.x2, r.y} {
		if s.Position() != 0 {
			t.Fatalf("%s ended at step %d", s.Name(), s.Position())
		}
	}
	sends := r.x1.Sends()
	if len(sends) != 3 || sends[0].Steps != 1000 || sends[1].Steps != 0 || sends[2].Steps != -1000 {
		t.Fatalf("unexpected x sends %+v", sends)
	}
	if sends[0].Rate != 1000 {
		t.Fatalf("expected default rate of 1000 steps/s, got %v", sends[0].Rate)
	}
}

func TestMachine_ZeroMove(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, machine.DefaultPoll, machine.CompletionAll(), sim.WithStepsPerPoll(1<<20))
	if err := r.m.Move(ctx, []float64{12.5, 12.5, 3}, 5); err != nil {
		t.Fatal(err)
	}
	polls := r.y.Polls()
	if err := r.m.Move(ctx, r.m.Current(), 5); err != nil {
		t.Fatal(err)
	}
	for _, s := range []*sim.Node{r.x1, r.x2, r.y} {
		sends := s.Sends()
		if last := sends[len(sends)-1]; last.Steps != 0 {
			t.Fatalf("%s: expected zero steps, got %d", s.Name(), last.Steps)
		}
	}
	if r.y.Polls() == polls {
		t.Fatal("zero move was not polled")
	}
	var kinds []machine.EventKind
	for _, e := range r.events[len(r.events)-3:] {
		kinds = append(kinds, e.Kind)
	}
	if kinds[0] != machine.MoveDispatched || kinds[1] != machine.MovePolled || kinds[2] != machine.MoveCommitted {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestMachine_PollsUntilZero(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, machine.DefaultPoll, machine.CompletionAll(), sim.WithStepsPerPoll(300))
	// 10 mm is 1000 steps: 700, 400, 100, 0
	if err := r.m.Move(ctx, []float64{10, 10, 10}, 0); err != nil {
		t.Fatal(err)
	}
	for _, s := range []*sim.Node{r.x1, r.x2, r.y} {
		if s.Polls() != 4 {
			t.Fatalf("%s: expected 4 polls, got %d", s.Name(), s.Polls())
		}
	}
}

func TestMachine_Representative(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, machine.DefaultPoll, machine.CompletionRepresentative("Y Axis"), sim.WithStepsPerPoll(300))
	if err := r.m.Move(ctx, []float64{10, 10, 0}, 0); err != nil {
		t.Fatal(err)
	}
	// y has nothing to do, so the move commits while x is still running
	if r.x1.Polls() != 0 || r.y.Polls() != 1 {
		t.Fatalf("expected only y polled once, got x1=%d y=%d", r.x1.Polls(), r.y.Polls())
	}
	if _, err := machine.New(machine.Config{
		Axes:       []machine.Axis{{Name: "y", Chain: chain()}},
		Drives:     []machine.Drive{{Node: r.y, Axes: []string{"y"}}},
		Completion: machine.CompletionRepresentative("Z Axis"),
	}); err == nil {
		t.Fatal("expected error for unknown representative")
	}
}

func TestMachine_Busy(t *testing.T) {
	ctx := context.Background()
	var m *machine.Machine
	var moveErr, setErr error
	hooked := false
	hook := sim.OnStatus(func() {
		if hooked {
			return
		}
		hooked = true
		if m.State() != machine.Polling {
			t.Errorf("expected polling, got %s", m.State())
		}
		moveErr = m.Move(ctx, []float64{1, 1, 1}, 0)
		setErr = m.SetPosition(machine.Values(1, 1, 1))
	})
	y := sim.New("Y Axis", sim.WithStepsPerPoll(1<<20), hook)
	var err error
	m, err = machine.New(machine.Config{
		Axes:       []machine.Axis{{Name: "x1", Chain: chain()}, {Name: "x2", Chain: chain()}, {Name: "y", Chain: chain()}},
		Drives:     []machine.Drive{{Node: sim.New("X", sim.WithStepsPerPoll(1<<20)), Axes: []string{"x1", "x2"}}, {Node: y, Axes: []string{"y"}}},
		Completion: machine.CompletionRepresentative("Y Axis"),
		Logger:     zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Move(ctx, []float64{5, 5, 5}, 0); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(moveErr, machine.ErrBusy) {
		t.Fatalf("expected busy move, got %v", moveErr)
	}
	if !errors.Is(setErr, machine.ErrBusy) {
		t.Fatalf("expected busy set position, got %v", setErr)
	}
	if got := m.Current(); !equal(got, []float64{5, 5, 5}) {
		t.Fatalf("expected (5,5,5), got %v", got)
	}
}

func TestMachine_StatusFailures(t *testing.T) {
	ctx := context.Background()
	poll := machine.Poll{Interval: time.Millisecond, Retries: 2}
	r := newRig(t, poll, machine.CompletionAll(), sim.WithStepsPerPoll(1<<20))
	boom := errors.New("no reply")

	// two failures are tolerated
	r.y.FailStatus(2, boom)
	if err := r.m.Move(ctx, []float64{1, 1, 1}, 0); err != nil {
		t.Fatal(err)
	}

	r.y.FailStatus(100, boom)
	err := r.m.Move(ctx, []float64{2, 2, 2}, 0)
	var tErr *drawbot.TransportError
	if !errors.As(err, &tErr) || tErr.Node != "Y Axis" {
		t.Fatalf("expected transport error from Y Axis, got %v", err)
	}
	var moveErr *drawbot.MoveError
	if !errors.As(err, &moveErr) || moveErr.MoveID == "" {
		t.Fatalf("expected move error, got %v", err)
	}
	if !equal(r.m.Current(), []float64{1, 1, 1}) || !equal(r.m.GetPosition(), []float64{1, 1, 1}) {
		t.Fatalf("failed move changed position: %v %v", r.m.Current(), r.m.GetPosition())
	}
	if r.m.State() != machine.Faulted {
		t.Fatalf("expected faulted, got %s", r.m.State())
	}
	if err := r.m.Move(ctx, []float64{1, 1, 1}, 0); !errors.Is(err, machine.ErrFaulted) {
		t.Fatalf("expected faulted, got %v", err)
	}
	if err := r.m.Reset(); err != nil {
		t.Fatal(err)
	}
	r.y.FailStatus(0, nil)
	if err := r.m.Move(ctx, []float64{2, 2, 2}, 0); err != nil {
		t.Fatal(err)
	}
}

func TestMachine_Timeout(t *testing.T) {
	ctx := context.Background()
	poll := machine.Poll{Interval: time.Millisecond, Retries: 1, Timeout: 20 * time.Millisecond}
	// one step per poll never finishes 1000 steps inside the timeout
	r := newRig(t, poll, machine.CompletionAll(), sim.WithStepsPerPoll(1))
	err := r.m.Move(ctx, []float64{10, 10, 10}, 0)
	var tErr *drawbot.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

type negative struct{ name string }

func (n negative) Name() string { return n.name }

func (n negative) Send(context.Context, node.Command) error { return nil }

func (n negative) Status(context.Context) (node.Status, error) {
	return node.Status{Node: n.name, Remaining: -5}, nil
}

func TestMachine_NegativeRemaining(t *testing.T) {
	m, err := machine.New(machine.Config{
		Axes:   []machine.Axis{{Name: "y", Chain: chain()}},
		Drives: []machine.Drive{{Node: negative{"Y Axis"}, Axes: []string{"y"}}},
		Poll:   machine.Poll{Interval: time.Millisecond, Retries: 100},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = m.Move(context.Background(), []float64{1}, 0)
	var tErr *drawbot.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestMachine_SendFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("no ack")

	r := newRig(t, machine.DefaultPoll, machine.CompletionAll(), sim.WithStepsPerPoll(1<<20))
	r.x2.FailSends(boom)
	err := r.m.Move(ctx, []float64{1, 1, 1}, 0)
	var syncErr *drawbot.SynchronizationError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected synchronization error, got %v", err)
	}
	if r.m.State() != machine.Faulted {
		t.Fatalf("expected faulted, got %s", r.m.State())
	}

	r = newRig(t, machine.DefaultPoll, machine.CompletionAll(), sim.WithStepsPerPoll(1<<20))
	for _, s := range []*sim.Node{r.x1, r.x2, r.y} {
		s.FailSends(boom)
	}
	err = r.m.Move(ctx, []float64{1, 1, 1}, 0)
	var tErr *drawbot.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if errors.As(err, &syncErr) {
		t.Fatalf("total failure reported as synchronization error: %v", err)
	}
}

func TestMachine_GangedMismatch(t *testing.T) {
	r := newRig(t, machine.DefaultPoll, machine.CompletionAll(), sim.WithStepsPerPoll(1<<20))
	err := r.m.Move(context.Background(), []float64{10, 5, 0}, 0)
	var syncErr *drawbot.SynchronizationError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected synchronization error, got %v", err)
	}
	if len(r.x1.Sends()) != 0 || len(r.y.Sends()) != 0 {
		t.Fatal("commands were sent for a rejected move")
	}
	if r.m.State() != machine.Idle {
		t.Fatalf("expected idle, got %s", r.m.State())
	}
}

func TestMachine_OutOfRange(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, machine.DefaultPoll, machine.CompletionAll(), sim.WithStepsPerPoll(1<<20))
	err := r.m.Move(ctx, []float64{1e17, 1e17, 0}, 0)
	if !errors.Is(err, element.ErrRange) {
		t.Fatalf("expected range error, got %v", err)
	}
	var moveErr *drawbot.MoveError
	if !errors.As(err, &moveErr) {
		t.Fatalf("expected move error, got %T", err)
	}
	for _, s := range []*sim.Node{r.x1, r.x2, r.y} {
		if len(s.Sends()) != 0 {
			t.Fatalf("%s received %d sends", s.Name(), len(s.Sends()))
		}
	}
	if r.m.State() != machine.Idle {
		t.Fatalf("expected idle, got %s", r.m.State())
	}
	if !equal(r.m.Current(), []float64{0, 0, 0}) || !equal(r.m.GetPosition(), []float64{0, 0, 0}) {
		t.Fatalf("position changed to %v / %v", r.m.Current(), r.m.GetPosition())
	}
	if err := r.m.Move(ctx, []float64{1, 1, 1}, 0); err != nil {
		t.Fatal(err)
	}
}

func TestMachine_Jog(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, machine.DefaultPoll, machine.CompletionAll(), sim.WithStepsPerPoll(1<<20))
	if err := r.m.Move(ctx, []float64{10, 10, 10}, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.m.Jog(ctx, []float64{-2.5, -2.5, 1}, 0); err != nil {
		t.Fatal(err)
	}
	if got := r.m.Current(); !equal(got, []float64{7.5, 7.5, 11}) {
		t.Fatalf("expected (7.5,7.5,11), got %v", got)
	}
	if err := r.m.Jog(ctx, []float64{1}, 0); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestMachine_HostSurface(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, machine.DefaultPoll, machine.CompletionAll(), sim.WithStepsPerPoll(1<<20))
	y := 4.0
	if err := r.m.SetPosition(machine.Sparse{nil, nil, &y}); err != nil {
		t.Fatal(err)
	}
	if got := r.m.GetPosition(); !equal(got, []float64{0, 0, 4}) {
		t.Fatalf("expected future (0,0,4), got %v", got)
	}
	if got := r.m.Current(); !equal(got, []float64{0, 0, 0}) {
		t.Fatalf("set position moved the machine: %v", got)
	}
	if err := r.m.SetPosition(machine.Values(1, 2, 3, 4)); err == nil {
		t.Fatal("expected dimension error")
	}
	if err := r.m.SetSpindleSpeed(0.5); err != nil {
		t.Fatal(err)
	}
	if err := r.m.SetSpindleSpeed(1.5); err == nil {
		t.Fatal("expected range error")
	}
	if err := r.m.SetMotorCurrent(ctx, 0.6); err != nil {
		t.Fatal(err)
	}
	if r.x1.Current() != 0.6 || r.y.Current() != 0.6 {
		t.Fatalf("current not forwarded: %v %v", r.x1.Current(), r.y.Current())
	}
	if err := r.m.SetVelocity(ctx, 20); err != nil {
		t.Fatal(err)
	}
	if r.x2.Velocity() != 2000 || r.m.Velocity() != 20 {
		t.Fatalf("velocity not forwarded: %v %v", r.x2.Velocity(), r.m.Velocity())
	}
	if err := r.m.MoveTo(ctx, machine.Sparse{nil, nil, &y}, 0); err != nil {
		t.Fatal(err)
	}
	if got := r.m.Current(); !equal(got, []float64{0, 0, 4}) {
		t.Fatalf("expected (0,0,4), got %v", got)
	}
}

func TestNew_Invalid(t *testing.T) {
	y := sim.New("Y Axis")
	for _, tc := range []struct {
		name string
		cfg  machine.Config
	}{
		{"no axes", machine.Config{}},
		{"undriven axis", machine.Config{
			Axes:   []machine.Axis{{Name: "x", Chain: chain()}, {Name: "y", Chain: chain()}},
			Drives: []machine.Drive{{Node: y, Axes: []string{"y"}}},
		}},
		{"unknown axis", machine.Config{
			Axes:   []machine.Axis{{Name: "y", Chain: chain()}},
			Drives: []machine.Drive{{Node: y, Axes: []string{"z"}}},
		}},
		{"missing chain", machine.Config{
			Axes:   []machine.Axis{{Name: "y"}},
			Drives: []machine.Drive{{Node: y, Axes: []string{"y"}}},
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := machine.New(tc.cfg)
			var cfgErr *drawbot.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}
