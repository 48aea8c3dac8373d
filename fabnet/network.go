package fabnet

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jt05610/drawbot"
)

// Address identifies a node on the bus.
type Address int

// Broadcast reaches every node on the bus.
const Broadcast Address = -1

func (a Address) String() string {
	if a == Broadcast {
		return "*"
	}
	return strconv.Itoa(int(a))
}

var (
	ErrTimeout = errors.New("no reply before timeout")
	ErrClosed  = errors.New("network closed")
)

const (
	DefaultTimeout = 200 * time.Millisecond
	DefaultRetries = 2
)

// Network carries requests over a shared half-duplex bus. Only one request is
// outstanding at a time.
type Network struct {
	logger  *zap.Logger
	rw      io.ReadWriteCloser
	timeout time.Duration
	retries int

	mu      sync.Mutex
	replies chan Reply
	done    chan struct{}
	readErr error
}

type Option func(*Network)

// WithTimeout sets how long a request waits for its reply.
func WithTimeout(d time.Duration) Option {
	return func(n *Network) { n.timeout = d }
}

// WithRetries sets how many times a timed out request is repeated.
func WithRetries(r int) Option {
	return func(n *Network) { n.retries = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Network) { n.logger = l }
}

// NewNetwork starts reading replies from rw until it is closed.
func NewNetwork(rw io.ReadWriteCloser, opts ...Option) *Network {
	n := &Network{
		logger:  zap.NewNop(),
		rw:      rw,
		timeout: DefaultTimeout,
		retries: DefaultRetries,
		replies: make(chan Reply, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	go n.listen()
	return n
}

func (n *Network) listen() {
	defer close(n.done)
	scanner := bufio.NewScanner(n.rw)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		r, err := NewParser(bytes.NewReader(line)).Parse()
		if err != nil {
			n.logger.Debug("ignoring line", zap.ByteString("line", line), zap.Error(err))
			continue
		}
		select {
		case n.replies <- r:
		default:
			n.logger.Warn("reply buffer full, dropping", zap.Any("reply", r))
		}
	}
	n.readErr = scanner.Err()
}

func (n *Network) Close() error {
	return n.rw.Close()
}

// drain drops replies left over from requests that already timed out.
func (n *Network) drain() {
	for {
		select {
		case r := <-n.replies:
			n.logger.Debug("dropping stale reply", zap.Any("reply", r))
		default:
			return
		}
	}
}

func encode(addr Address, verb string, args ...string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "@%s %s", addr, verb)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// Request sends verb to addr and waits for the reply from that address. Timed
// out requests are repeated; a Fault reply is returned as an error without
// retrying.
func (n *Network) Request(ctx context.Context, addr Address, verb string, args ...string) (Reply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	msg := encode(addr, verb, args...)
	var err error
	for attempt := 0; attempt <= n.retries; attempt++ {
		var r Reply
		r, err = n.roundTrip(ctx, addr, msg, n.timeout)
		if err == nil {
			if f, ok := r.(*Fault); ok {
				return nil, &drawbot.TransportError{Node: addr.String(), Op: verb, Err: f}
			}
			return r, nil
		}
		if !errors.Is(err, ErrTimeout) {
			break
		}
		n.logger.Warn("request timed out", zap.Stringer("address", addr), zap.String("verb", verb), zap.Int("attempt", attempt+1))
	}
	return nil, &drawbot.TransportError{Node: addr.String(), Op: verb, Err: err}
}

// Acquire broadcasts ACQ and waits up to wait for the node whose button is
// pressed to identify itself.
func (n *Network) Acquire(ctx context.Context, wait time.Duration) (*Identity, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, err := n.roundTrip(ctx, Broadcast, encode(Broadcast, "ACQ"), wait)
	if err != nil {
		return nil, &drawbot.TransportError{Node: Broadcast.String(), Op: "ACQ", Err: err}
	}
	id, ok := r.(*Identity)
	if !ok {
		return nil, &drawbot.TransportError{Node: r.From().String(), Op: "ACQ", Err: errors.Errorf("unexpected reply %T", r)}
	}
	return id, nil
}

func (n *Network) roundTrip(ctx context.Context, addr Address, msg []byte, wait time.Duration) (Reply, error) {
	n.drain()
	n.logger.Debug("sending request", zap.ByteString("request", bytes.TrimSpace(msg)))
	if _, err := n.rw.Write(msg); err != nil {
		return nil, errors.Wrap(err, "write")
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrTimeout
		case <-n.done:
			if n.readErr != nil {
				return nil, errors.Wrap(n.readErr, "read")
			}
			return nil, ErrClosed
		case r := <-n.replies:
			if addr == Broadcast || r.From() == addr {
				return r, nil
			}
			n.logger.Debug("reply from unexpected address", zap.Stringer("want", addr), zap.Stringer("got", r.From()))
		}
	}
}
