package fabnet

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/jt05610/drawbot"
	"github.com/jt05610/drawbot/node"
)

var (
	_ node.Node           = (*Node)(nil)
	_ node.CurrentSetter  = (*Node)(nil)
	_ node.VelocitySetter = (*Node)(nil)
)

// Node is a stepper node reached through a Network.
type Node struct {
	name     string
	addr     Address
	firmware string
	net      *Network
}

func NewNode(name string, addr Address, firmware string, net *Network) *Node {
	return &Node{name: name, addr: addr, firmware: firmware, net: net}
}

func (n *Node) Name() string { return n.name }

func (n *Node) Address() Address { return n.addr }

func (n *Node) Firmware() string { return n.firmware }

func (n *Node) ack(ctx context.Context, verb string, args ...string) error {
	r, err := n.net.Request(ctx, n.addr, verb, args...)
	if err != nil {
		return n.rename(err)
	}
	if _, ok := r.(*Ack); !ok {
		return &drawbot.TransportError{Node: n.name, Op: verb, Err: errors.Errorf("expected ok, got %T", r)}
	}
	return nil
}

// rename reports transport errors under the node name instead of its address.
func (n *Node) rename(err error) error {
	var tErr *drawbot.TransportError
	if errors.As(err, &tErr) {
		return &drawbot.TransportError{Node: n.name, Op: tErr.Op, Err: tErr.Err}
	}
	return err
}

// Send queues a relative move of cmd.Steps at cmd.Rate steps per second. A zero
// rate uses the node's configured velocity.
func (n *Node) Send(ctx context.Context, cmd node.Command) error {
	return n.ack(ctx, "SPIN", strconv.FormatInt(cmd.Steps, 10), strconv.FormatFloat(cmd.Rate, 'f', -1, 64))
}

func (n *Node) Status(ctx context.Context) (node.Status, error) {
	r, err := n.net.Request(ctx, n.addr, "STAT")
	if err != nil {
		return node.Status{}, n.rename(err)
	}
	st, ok := r.(*StatusReply)
	if !ok {
		return node.Status{}, &drawbot.TransportError{Node: n.name, Op: "STAT", Err: errors.Errorf("expected status, got %T", r)}
	}
	return node.Status{Node: n.name, Remaining: st.Remaining, Position: st.Position, State: st.State}, nil
}

func (n *Node) SetVelocity(ctx context.Context, rate float64) error {
	return n.ack(ctx, "VEL", strconv.FormatFloat(rate, 'f', -1, 64))
}

func (n *Node) SetMotorCurrent(ctx context.Context, amps float64) error {
	return n.ack(ctx, "CUR", strconv.FormatFloat(amps, 'f', -1, 64))
}
