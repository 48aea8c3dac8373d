package hostapi_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/jt05610/drawbot"
	"github.com/jt05610/drawbot/hostapi"
	"github.com/jt05610/drawbot/machine"
	"github.com/jt05610/drawbot/node"
	"github.com/jt05610/drawbot/node/sim"
	"github.com/jt05610/drawbot/profile"
)

func newClient(t *testing.T) (*hostapi.Client, *machine.Machine) {
	t.Helper()
	p := profile.Default()
	nodes := map[string]node.Node{}
	for _, name := range p.NodeNames() {
		nodes[name] = sim.New(name, sim.WithStepsPerPoll(1<<20))
	}
	cfg, err := p.Config(nodes)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Logger = zaptest.NewLogger(t)
	m, err := machine.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hostapi.Register(srv, hostapi.NewServer(m, zaptest.NewLogger(t)))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return hostapi.NewClient(conn), m
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

func TestClient_Move(t *testing.T) {
	c, m := newClient(t)
	ctx := context.Background()
	if err := c.Move(ctx, []float64{10, 10, 0}); err != nil {
		t.Fatal(err)
	}
	pos, err := c.GetPosition(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(pos, []float64{10, 10, 0}) {
		t.Fatalf("expected (10,10,0), got %v", pos)
	}
	if err := c.Jog(ctx, []float64{0, 0, 2.5}); err != nil {
		t.Fatal(err)
	}
	if got := m.Current(); !equal(got, []float64{10, 10, 2.5}) {
		t.Fatalf("expected (10,10,2.5), got %v", got)
	}
	state, err := c.GetState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state != machine.Idle.String() {
		t.Fatalf("expected idle, got %s", state)
	}
}

func TestClient_SetPosition(t *testing.T) {
	c, m := newClient(t)
	ctx := context.Background()
	if err := c.SetPosition(ctx, machine.Values(1, 2, 3)); err != nil {
		t.Fatal(err)
	}
	five := 5.0
	if err := c.SetPosition(ctx, machine.Sparse{nil, nil, &five}); err != nil {
		t.Fatal(err)
	}
	pos, err := c.GetPosition(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(pos, []float64{1, 2, 5}) {
		t.Fatalf("expected (1,2,5), got %v", pos)
	}
	if !equal(m.Current(), []float64{0, 0, 0}) {
		t.Fatalf("future must not move the machine, got %v", m.Current())
	}
}

func TestClient_Errors(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"move dimension", func() error { return c.Move(ctx, []float64{1, 2}) }, codes.InvalidArgument},
		{"jog dimension", func() error { return c.Jog(ctx, []float64{1, 2, 3, 4}) }, codes.InvalidArgument},
		{"set position dimension", func() error { return c.SetPosition(ctx, machine.Values(1, 2, 3, 4)) }, codes.InvalidArgument},
		{"out of range", func() error { return c.Move(ctx, []float64{1e17, 1e17, 0}) }, codes.InvalidArgument},
		{"spindle range", func() error { return c.SetSpindleSpeed(ctx, 2) }, codes.InvalidArgument},
		{"velocity", func() error { return c.SetVelocity(ctx, -1) }, codes.InvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if status.Code(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
	if err := c.SetSpindleSpeed(ctx, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := c.SetVelocity(ctx, 20); err != nil {
		t.Fatal(err)
	}
	if err := c.Reset(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestCode(t *testing.T) {
	for _, tc := range []struct {
		err    error
		expect codes.Code
	}{
		{machine.ErrBusy, codes.Unavailable},
		{&drawbot.MoveError{MoveID: "1", Err: machine.ErrFaulted}, codes.FailedPrecondition},
		{&drawbot.MoveError{MoveID: "1", Err: &drawbot.TransportError{Node: "Y Axis", Op: "status", Err: errors.New("timeout")}}, codes.Unavailable},
		{&drawbot.SynchronizationError{Group: "x", Err: errors.New("partial")}, codes.Aborted},
		{drawbot.NewConfigurationError("chain", errors.New("zero gain")), codes.InvalidArgument},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("other"), codes.Internal},
	} {
		t.Run(tc.err.Error(), func(t *testing.T) {
			if got := hostapi.Code(tc.err, codes.Internal); got != tc.expect {
				t.Fatalf("expected %s, got %s", tc.expect, got)
			}
		})
	}
}
