package vpn

import (
	"context"
	"fmt"
	"sort"

	"github.com/yllada/nm-openvpn/common"
)

// Registry selects among the available protocol variants.
type Registry struct {
	protocols []*Protocol
}

// NewRegistry returns a registry over protocols. Order breaks priority ties.
func NewRegistry(protocols ...*Protocol) *Registry {
	return &Registry{protocols: protocols}
}

// Protocols returns the registered variants.
func (r *Registry) Protocols() []*Protocol {
	return r.protocols
}

// Lookup returns the variant called name without probing it.
func (r *Registry) Lookup(name string) (*Protocol, error) {
	for _, p := range r.protocols {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", common.ErrUnknownProtocol, name)
}

// Select returns the named variant if it is usable. With an empty name it
// returns the usable variant with the highest priority.
func (r *Registry) Select(ctx context.Context, name string) (*Protocol, error) {
	if name != "" {
		p, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		if !p.IsUsable(ctx) {
			return nil, fmt.Errorf("%w: %s", common.ErrNotUsable, name)
		}
		return p, nil
	}

	candidates := make([]*Protocol, len(r.protocols))
	copy(candidates, r.protocols)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority() > candidates[j].Priority()
	})

	for _, p := range candidates {
		if p.IsUsable(ctx) {
			return p, nil
		}
	}
	return nil, common.ErrNoUsableProtocol
}
