package hostapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jt05610/drawbot/machine"
)

// Client calls a remote drawbot.v1.Machine.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetPosition(ctx context.Context, opts ...grpc.CallOption) ([]float64, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, fullMethod("GetPosition"), &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return ToVector(out)
}

func (c *Client) SetPosition(ctx context.Context, s machine.Sparse, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod("SetPosition"), FromSparse(s), new(emptypb.Empty), opts...)
}

func (c *Client) SetSpindleSpeed(ctx context.Context, fraction float64, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod("SetSpindleSpeed"), wrapperspb.Double(fraction), new(emptypb.Empty), opts...)
}

func (c *Client) SetVelocity(ctx context.Context, rate float64, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod("SetVelocity"), wrapperspb.Double(rate), new(emptypb.Empty), opts...)
}

func (c *Client) Move(ctx context.Context, target []float64, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod("Move"), ToList(target), new(emptypb.Empty), opts...)
}

func (c *Client) Jog(ctx context.Context, delta []float64, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod("Jog"), ToList(delta), new(emptypb.Empty), opts...)
}

func (c *Client) GetState(ctx context.Context, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, fullMethod("GetState"), &emptypb.Empty{}, out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) Reset(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod("Reset"), &emptypb.Empty{}, new(emptypb.Empty), opts...)
}
