package machine

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/jt05610/drawbot"
	"github.com/jt05610/drawbot/element"
	"github.com/jt05610/drawbot/kinematics"
	"github.com/jt05610/drawbot/node"
)

var (
	// ErrBusy is returned for any request made while a move is in flight.
	ErrBusy = errors.New("machine is busy")
	// ErrFaulted is returned once a move has failed after commands were sent.
	// The physical position is unknown until Reset is called.
	ErrFaulted = errors.New("machine is faulted, reset required")

	errNegativeRemaining = errors.New("node reported negative remaining steps")
)

type State int

const (
	Idle State = iota
	Dispatched
	Polling
	Committed
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dispatched:
		return "dispatched"
	case Polling:
		return "polling"
	case Committed:
		return "committed"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// Axis is one physical axis and the chain that converts its travel to steps.
type Axis struct {
	Name  string
	Chain *element.Chain
}

// Drive binds a node to the physical axes it moves. A drive with several axes
// is ganged: every axis must travel the same number of steps.
type Drive struct {
	Node node.Node
	Axes []string
}

// Poll controls completion polling.
type Poll struct {
	// Interval between status rounds.
	Interval time.Duration
	// Retries is the number of consecutive failed rounds tolerated.
	Retries int
	// Timeout bounds the whole polling phase of a move. Zero disables it.
	Timeout time.Duration
}

var DefaultPoll = Poll{Interval: time.Millisecond, Retries: 3}

// Completion decides which nodes are queried to detect the end of a move.
type Completion struct {
	representative string
}

// CompletionAll waits for every node taking part in a move.
func CompletionAll() Completion { return Completion{} }

// CompletionRepresentative waits for a single named node only.
func CompletionRepresentative(name string) Completion {
	return Completion{representative: name}
}

func (c Completion) String() string {
	if c.representative == "" {
		return "all"
	}
	return "representative(" + c.representative + ")"
}

// Dispatcher runs one move at a time through dispatch, polling and commit.
type Dispatcher struct {
	logger    *zap.Logger
	coord     *Coordinate
	stage     kinematics.Stage
	axes      []Axis
	drives    []drive
	poll      Poll
	watch     []node.Node
	observers []Observer

	mu    sync.Mutex
	state State
}

type drive struct {
	node node.Node
	axes []int
}

func newDispatcher(cfg Config, coord *Coordinate) (*Dispatcher, error) {
	d := &Dispatcher{
		logger:    cfg.Logger,
		coord:     coord,
		stage:     cfg.Stage,
		axes:      cfg.Axes,
		poll:      cfg.Poll,
		observers: cfg.Observers,
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.poll.Interval <= 0 {
		d.poll.Interval = DefaultPoll.Interval
	}
	if d.poll.Retries < 0 {
		return nil, drawbot.NewConfigurationError("poll.retries", errors.Errorf("must not be negative, got %d", d.poll.Retries))
	}
	index := make(map[string]int, len(cfg.Axes))
	for i, ax := range cfg.Axes {
		if ax.Chain == nil {
			return nil, drawbot.NewConfigurationError("axes."+ax.Name, errors.New("missing chain"))
		}
		if _, ok := index[ax.Name]; ok {
			return nil, drawbot.NewConfigurationError("axes."+ax.Name, errors.New("duplicate axis"))
		}
		index[ax.Name] = i
	}
	if d.stage == nil {
		d.stage = kinematics.Direct(len(cfg.Axes))
	}
	if d.stage.Axes() != len(cfg.Axes) {
		return nil, drawbot.NewConfigurationError("kinematics", errors.Errorf("stage maps %d axes, machine has %d", d.stage.Axes(), len(cfg.Axes)))
	}
	owner := make(map[int]string, len(cfg.Axes))
	nodes := make([]node.Node, 0, len(cfg.Drives))
	for _, dr := range cfg.Drives {
		if dr.Node == nil || len(dr.Axes) == 0 {
			return nil, drawbot.NewConfigurationError("drives", errors.New("drive needs a node and at least one axis"))
		}
		x := drive{node: dr.Node}
		for _, name := range dr.Axes {
			i, ok := index[name]
			if !ok {
				return nil, drawbot.NewConfigurationError("drives."+dr.Node.Name(), errors.Errorf("unknown axis %q", name))
			}
			if prev, ok := owner[i]; ok {
				return nil, drawbot.NewConfigurationError("drives."+dr.Node.Name(), errors.Errorf("axis %q already driven by %q", name, prev))
			}
			owner[i] = dr.Node.Name()
			x.axes = append(x.axes, i)
		}
		d.drives = append(d.drives, x)
		nodes = append(nodes, dr.Node)
	}
	for i, ax := range cfg.Axes {
		if _, ok := owner[i]; !ok {
			return nil, drawbot.NewConfigurationError("axes."+ax.Name, errors.New("axis has no drive"))
		}
	}
	watch, err := cfg.Completion.nodes(nodes)
	if err != nil {
		return nil, err
	}
	d.watch = watch
	return d, nil
}

func (c Completion) nodes(drives []node.Node) ([]node.Node, error) {
	flat := node.Flatten(drives...)
	if c.representative == "" {
		return flat, nil
	}
	for _, n := range append(drives, flat...) {
		if n.Name() == c.representative {
			return []node.Node{n}, nil
		}
	}
	return nil, drawbot.NewConfigurationError("completion", errors.Errorf("representative %q is not part of the machine", c.representative))
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// acquire moves an idle dispatcher into Dispatched.
func (d *Dispatcher) acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case Idle, Committed:
		d.state = Dispatched
		return nil
	case Faulted:
		return ErrFaulted
	}
	return ErrBusy
}

// Reset clears a fault. The committed position is kept as it was before the
// failed move.
func (d *Dispatcher) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case Dispatched, Polling:
		return ErrBusy
	}
	if d.state == Faulted {
		d.logger.Warn("fault cleared", zap.Float64s("position", d.coord.Current()))
	}
	d.state = Idle
	return nil
}

// Move drives the machine to target and blocks until every watched node
// reports the move complete. rate is in machine units per second; zero leaves
// the nodes at their default rate.
func (d *Dispatcher) Move(ctx context.Context, target []float64, rate float64) error {
	if err := d.acquire(); err != nil {
		return err
	}
	id := uuid.NewString()
	started := time.Now()
	sent, err := d.run(ctx, id, target, rate)
	if err == nil {
		d.coord.commit()
		d.setState(Committed)
		d.logger.Debug("move committed", zap.String("move", id), zap.Float64s("position", target), zap.Duration("elapsed", time.Since(started)))
		d.notify(ctx, Event{Kind: MoveCommitted, MoveID: id, Target: target, Elapsed: time.Since(started)})
		d.setState(Idle)
		return nil
	}
	d.coord.revert()
	if sent {
		d.setState(Faulted)
	} else {
		d.setState(Idle)
	}
	err = &drawbot.MoveError{MoveID: id, Target: clone(target), Err: err}
	d.logger.Error("move failed", zap.String("move", id), zap.Bool("sent", sent), zap.Error(err))
	d.notify(ctx, Event{Kind: MoveFailed, MoveID: id, Target: target, Elapsed: time.Since(started), Err: err})
	return err
}

// Jog moves by delta relative to the committed position.
func (d *Dispatcher) Jog(ctx context.Context, delta []float64, rate float64) error {
	target := d.coord.Current()
	if len(delta) != len(target) {
		return errors.Wrapf(kinematics.ErrDimension, "jog has %d components, machine has %d", len(delta), len(target))
	}
	floats.Add(target, delta)
	return d.Move(ctx, target, rate)
}

// run reports whether any command may have reached a node.
func (d *Dispatcher) run(ctx context.Context, id string, target []float64, rate float64) (bool, error) {
	for i, v := range target {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false, errors.Errorf("component %d is not finite", i)
		}
	}
	if err := d.coord.begin(target); err != nil {
		return false, err
	}
	cmds, err := d.commands(id, d.coord.Current(), target, rate)
	if err != nil {
		return false, err
	}
	steps := make([]int64, len(cmds))
	for i := range cmds {
		steps[i] = cmds[i].Steps
	}
	d.logger.Info("move dispatched", zap.String("move", id), zap.Float64s("target", target), zap.Int64s("steps", steps))
	d.notify(ctx, Event{Kind: MoveDispatched, MoveID: id, Target: target, Steps: steps})
	if err := d.send(ctx, cmds); err != nil {
		return true, err
	}
	d.setState(Polling)
	polls, err := d.wait(ctx)
	d.logger.Debug("polling finished", zap.String("move", id), zap.Int("polls", polls))
	d.notify(ctx, Event{Kind: MovePolled, MoveID: id, Polls: polls})
	return true, err
}

func (d *Dispatcher) steps(v []float64) ([]int64, error) {
	phys, err := d.stage.Map(v)
	if err != nil {
		return nil, err
	}
	ret := make([]int64, len(d.axes))
	for i, ax := range d.axes {
		if ret[i], err = ax.Chain.Steps(phys[i]); err != nil {
			return nil, errors.Wrapf(err, "axis %s", ax.Name)
		}
	}
	return ret, nil
}

// commands converts the move into one command per drive. Absolute step targets
// are differenced so rounding does not accumulate over a run.
func (d *Dispatcher) commands(id string, from, to []float64, rate float64) ([]node.Command, error) {
	a, err := d.steps(from)
	if err != nil {
		return nil, err
	}
	b, err := d.steps(to)
	if err != nil {
		return nil, err
	}
	ret := make([]node.Command, len(d.drives))
	for i, dr := range d.drives {
		first := dr.axes[0]
		delta := b[first] - a[first]
		for _, ax := range dr.axes[1:] {
			if b[ax]-a[ax] != delta {
				names := make([]string, len(dr.axes))
				for j, k := range dr.axes {
					names[j] = d.axes[k].Name
				}
				return nil, &drawbot.SynchronizationError{
					Group:  dr.node.Name(),
					Failed: names,
					Err:    errors.Errorf("ganged axes disagree: %s wants %d steps, %s wants %d", d.axes[first].Name, delta, d.axes[ax].Name, b[ax]-a[ax]),
				}
			}
		}
		ret[i] = node.Command{MoveID: id, Steps: delta, Rate: rate * d.axes[first].Chain.StepsPerUnit()}
		if ret[i].Rate < 0 {
			ret[i].Rate = -ret[i].Rate
		}
	}
	return ret, nil
}

func (d *Dispatcher) send(ctx context.Context, cmds []node.Command) error {
	nodes := make([]node.Node, len(d.drives))
	byName := make(map[string]node.Command, len(d.drives))
	for i, dr := range d.drives {
		nodes[i] = dr.node
		byName[dr.node.Name()] = cmds[i]
	}
	results := node.FanOut(ctx, nodes, func(ctx context.Context, n node.Node) error {
		return n.Send(ctx, byName[n.Name()])
	})
	var err error
	partial := false
	for _, r := range results {
		err = multierr.Append(err, r.Err)
		var syncErr *drawbot.SynchronizationError
		if errors.As(r.Err, &syncErr) {
			partial = true
		}
	}
	if err == nil {
		return nil
	}
	if len(results) == 1 {
		return results[0].Err
	}
	acked, failed := node.Split(results)
	if len(acked) == 0 && !partial {
		return &drawbot.TransportError{Node: strings.Join(failed, ","), Op: "send", Err: err}
	}
	return &drawbot.SynchronizationError{Group: "machine", Acked: acked, Failed: failed, Err: err}
}

// wait polls the watched nodes until all report zero remaining steps.
func (d *Dispatcher) wait(ctx context.Context) (int, error) {
	if d.poll.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.poll.Timeout)
		defer cancel()
	}
	ticker := time.NewTicker(d.poll.Interval)
	defer ticker.Stop()
	polls, failures := 0, 0
	for {
		polls++
		done, err := d.query(ctx)
		switch {
		case err == nil && done:
			return polls, nil
		case err == nil:
			failures = 0
		case errors.Is(err, errNegativeRemaining):
			return polls, err
		default:
			failures++
			d.logger.Warn("status query failed", zap.Int("attempt", failures), zap.Error(err))
			if failures > d.poll.Retries {
				return polls, err
			}
		}
		select {
		case <-ctx.Done():
			return polls, &drawbot.TransportError{Node: d.watchNames(), Op: "status", Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) query(ctx context.Context) (bool, error) {
	remaining := make([]int64, len(d.watch))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range d.watch {
		i, n := i, n
		g.Go(func() error {
			st, err := n.Status(gctx)
			if err != nil {
				var tErr *drawbot.TransportError
				if errors.As(err, &tErr) {
					return err
				}
				return &drawbot.TransportError{Node: n.Name(), Op: "status", Err: err}
			}
			if st.Remaining < 0 {
				return &drawbot.TransportError{Node: n.Name(), Op: "status", Err: errors.Wrapf(errNegativeRemaining, "%d", st.Remaining)}
			}
			remaining[i] = st.Remaining
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, r := range remaining {
		if r > 0 {
			return false, nil
		}
	}
	return true, nil
}

func (d *Dispatcher) watchNames() string {
	names := make([]string, len(d.watch))
	for i, n := range d.watch {
		names[i] = n.Name()
	}
	return strings.Join(names, ",")
}

func (d *Dispatcher) notify(ctx context.Context, e Event) {
	for _, o := range d.observers {
		o.Observe(ctx, e)
	}
}
