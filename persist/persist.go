// Package persist stores which network address each named node was bound to
// so later runs reattach to the same hardware without rediscovery.
package persist

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Binding is the stored identity of one node.
type Binding struct {
	Address  int       `yaml:"address" json:"address"`
	Firmware string    `yaml:"firmware,omitempty" json:"firmware,omitempty"`
	BoundAt  time.Time `yaml:"bound_at" json:"bound_at"`
}

// Bindings maps logical node names to their bindings.
type Bindings map[string]Binding

// Names returns the bound node names in sorted order.
func (b Bindings) Names() []string {
	ret := make([]string, 0, len(b))
	for name := range b {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Validate reports the first binding with an empty name, a negative address
// or an address already held by another name, in name order.
func (b Bindings) Validate() error {
	owner := make(map[int]string, len(b))
	for _, name := range b.Names() {
		addr := b[name].Address
		if name == "" || addr < 0 {
			return errors.Errorf("invalid binding %q: address %d", name, addr)
		}
		if prev, ok := owner[addr]; ok {
			return errors.Errorf("address %d is bound to both %q and %q", addr, prev, name)
		}
		owner[addr] = name
	}
	return nil
}

// Store loads and saves bindings. Load on an empty store returns an empty map
// and no error.
type Store interface {
	Load(ctx context.Context) (Bindings, error)
	Save(ctx context.Context, b Bindings) error
}

// Memory is a Store kept in process memory.
type Memory struct {
	b Bindings
}

func NewMemory(b Bindings) *Memory {
	m := &Memory{b: make(Bindings, len(b))}
	for k, v := range b {
		m.b[k] = v
	}
	return m
}

func (m *Memory) Load(context.Context) (Bindings, error) {
	ret := make(Bindings, len(m.b))
	for k, v := range m.b {
		ret[k] = v
	}
	return ret, nil
}

func (m *Memory) Save(_ context.Context, b Bindings) error {
	m.b = make(Bindings, len(b))
	for k, v := range b {
		m.b[k] = v
	}
	return nil
}
