package fabnet

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jt05610/drawbot"
	"github.com/jt05610/drawbot/persist"
)

// DefaultAcquireWait is how long Resolve waits for an operator to press a
// node's identify button.
const DefaultAcquireWait = 30 * time.Second

// Resolver reattaches named nodes to their stored addresses and discovers the
// ones that were never bound.
type Resolver struct {
	Network *Network
	Store   persist.Store
	// Announce is called before acquiring an unbound node, typically to ask
	// the operator to press its button.
	Announce func(ctx context.Context, name string) error
	Wait     time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

// Resolve returns one Node per name in the same order. Newly acquired bindings
// are saved once all names are bound.
func (r *Resolver) Resolve(ctx context.Context, names ...string) ([]*Node, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	wait := r.Wait
	if wait <= 0 {
		wait = DefaultAcquireWait
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	bindings, err := r.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := bindings.Validate(); err != nil {
		return nil, drawbot.NewConfigurationError("bindings", err)
	}
	taken := make(map[Address]string, len(bindings))
	for name, b := range bindings {
		taken[Address(b.Address)] = name
	}
	ret := make([]*Node, len(names))
	dirty := false
	for i, name := range names {
		if b, ok := bindings[name]; ok {
			logger.Debug("reusing binding", zap.String("node", name), zap.Int("address", b.Address))
			ret[i] = NewNode(name, Address(b.Address), b.Firmware, r.Network)
			continue
		}
		if r.Announce != nil {
			if err := r.Announce(ctx, name); err != nil {
				return nil, err
			}
		}
		id, err := r.Network.Acquire(ctx, wait)
		if err != nil {
			return nil, errors.Wrapf(err, "acquire %q", name)
		}
		if owner, ok := taken[id.Addr]; ok {
			return nil, errors.Errorf("address %s answered for %q but is already bound to %q", id.Addr, name, owner)
		}
		taken[id.Addr] = name
		bindings[name] = persist.Binding{Address: int(id.Addr), Firmware: id.Firmware, BoundAt: now().UTC()}
		dirty = true
		logger.Info("node bound", zap.String("node", name), zap.Stringer("address", id.Addr), zap.String("firmware", id.Firmware))
		ret[i] = NewNode(name, id.Addr, id.Firmware, r.Network)
	}
	if dirty {
		if err := r.Store.Save(ctx, bindings); err != nil {
			return nil, errors.Wrap(err, "save bindings")
		}
	}
	return ret, nil
}
