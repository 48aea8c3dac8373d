package hostapi

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jt05610/drawbot"
	"github.com/jt05610/drawbot/element"
	"github.com/jt05610/drawbot/kinematics"
	"github.com/jt05610/drawbot/machine"
)

var _ MachineServer = (*Server)(nil)

// Host is the part of *machine.Machine exposed over the wire.
type Host interface {
	GetPosition() []float64
	SetPosition(s machine.Sparse) error
	SetSpindleSpeed(fraction float64) error
	SetVelocity(ctx context.Context, rate float64) error
	Move(ctx context.Context, target []float64, rate float64) error
	Jog(ctx context.Context, delta []float64, rate float64) error
	State() machine.State
	Reset() error
}

type Server struct {
	Machine Host
	Logger  *zap.Logger
}

func NewServer(m Host, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Machine: m, Logger: logger}
}

func (s *Server) GetPosition(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return ToList(s.Machine.GetPosition()), nil
}

func (s *Server) SetPosition(_ context.Context, in *structpb.ListValue) (*emptypb.Empty, error) {
	sparse, err := ToSparse(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.Machine.SetPosition(sparse); err != nil {
		return nil, s.fail("SetPosition", err, codes.InvalidArgument)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) SetSpindleSpeed(_ context.Context, in *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
	if err := s.Machine.SetSpindleSpeed(in.GetValue()); err != nil {
		return nil, s.fail("SetSpindleSpeed", err, codes.InvalidArgument)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) SetVelocity(ctx context.Context, in *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
	if err := s.Machine.SetVelocity(ctx, in.GetValue()); err != nil {
		return nil, s.fail("SetVelocity", err, codes.InvalidArgument)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Move(ctx context.Context, in *structpb.ListValue) (*emptypb.Empty, error) {
	target, err := ToVector(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.Machine.Move(ctx, target, 0); err != nil {
		return nil, s.fail("Move", err, codes.Internal)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Jog(ctx context.Context, in *structpb.ListValue) (*emptypb.Empty, error) {
	delta, err := ToVector(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.Machine.Jog(ctx, delta, 0); err != nil {
		return nil, s.fail("Jog", err, codes.Internal)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) GetState(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.Machine.State().String()), nil
}

func (s *Server) Reset(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.Machine.Reset(); err != nil {
		return nil, s.fail("Reset", err, codes.Internal)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) fail(method string, err error, fallback codes.Code) error {
	code := Code(err, fallback)
	s.Logger.Warn("host request failed", zap.String("method", method), zap.Stringer("code", code), zap.Error(err))
	return status.Error(code, err.Error())
}

// Code classifies err into a gRPC status code, using fallback for errors
// outside the drawbot taxonomy.
func Code(err error, fallback codes.Code) codes.Code {
	var (
		cfgErr  *drawbot.ConfigurationError
		inErr   *drawbot.InputFormatError
		syncErr *drawbot.SynchronizationError
		trErr   *drawbot.TransportError
	)
	switch {
	case errors.Is(err, machine.ErrBusy):
		return codes.Unavailable
	case errors.Is(err, machine.ErrFaulted):
		return codes.FailedPrecondition
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, kinematics.ErrDimension), errors.Is(err, element.ErrRange), errors.As(err, &cfgErr), errors.As(err, &inErr):
		return codes.InvalidArgument
	case errors.As(err, &syncErr):
		return codes.Aborted
	case errors.As(err, &trErr):
		return codes.Unavailable
	}
	return fallback
}

// ToList encodes v as a list of numbers.
func ToList(v []float64) *structpb.ListValue {
	ret := &structpb.ListValue{Values: make([]*structpb.Value, len(v))}
	for i, f := range v {
		ret.Values[i] = structpb.NewNumberValue(f)
	}
	return ret
}

// FromSparse encodes s with nulls for unchanged components.
func FromSparse(s machine.Sparse) *structpb.ListValue {
	ret := &structpb.ListValue{Values: make([]*structpb.Value, len(s))}
	for i, f := range s {
		if f == nil {
			ret.Values[i] = structpb.NewNullValue()
			continue
		}
		ret.Values[i] = structpb.NewNumberValue(*f)
	}
	return ret
}

// ToSparse decodes a list of numbers and nulls.
func ToSparse(l *structpb.ListValue) (machine.Sparse, error) {
	ret := make(machine.Sparse, len(l.GetValues()))
	for i, v := range l.GetValues() {
		switch k := v.GetKind().(type) {
		case *structpb.Value_NullValue:
		case *structpb.Value_NumberValue:
			f := k.NumberValue
			ret[i] = &f
		default:
			return nil, errors.Errorf("component %d: expected number or null, got %T", i, k)
		}
	}
	return ret, nil
}

// ToVector decodes a list where every component must be a finite number.
func ToVector(l *structpb.ListValue) ([]float64, error) {
	s, err := ToSparse(l)
	if err != nil {
		return nil, err
	}
	ret := make([]float64, len(s))
	for i, f := range s {
		if f == nil {
			return nil, errors.Errorf("component %d: null is not allowed here", i)
		}
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			return nil, errors.Errorf("component %d: %v is not finite", i, *f)
		}
		ret[i] = *f
	}
	return ret, nil
}
