package vpn

import (
	"context"
	"fmt"
	"slices"

	"github.com/yllada/nm-openvpn/common"
)

// defaultPriority is reported by both OpenVPN variants.
const defaultPriority = 1

// protocolNames lists the variants in registration order.
var protocolNames = []string{ProtocolTCP, ProtocolUDP}

// Registrar hands a profile to NetworkManager.
// The returned future completes when the daemon has stored the connection.
type Registrar interface {
	AddConnectionAsync(ctx context.Context, profile *Profile) *Future
}

// Prober checks that NetworkManager can serve OpenVPN connections.
type Prober interface {
	Probe(ctx context.Context) error
}

// Backend bundles the collaborators shared by every protocol variant.
type Backend struct {
	Importer  Importer
	Registrar Registrar
	Prober    Prober
	Env       Environment
	Logger    common.Logger
	// DeviceName is the virtual tunnel device; empty uses the default.
	DeviceName string
}

func (b *Backend) logger() common.Logger {
	if b.Logger == nil {
		return common.GetLogger()
	}
	return b.Logger
}

// Protocols returns the TCP and UDP variants served by this backend.
func (b *Backend) Protocols() []*Protocol {
	protocols := make([]*Protocol, 0, len(protocolNames))
	for _, name := range protocolNames {
		p, err := NewProtocol(name, b)
		if err != nil {
			b.logger().Warn("Skipping protocol %s: %v", name, err)
			continue
		}
		protocols = append(protocols, p)
	}
	return protocols
}

// Protocol is one OpenVPN transport variant. The variants share all
// profile logic and differ only by identifier.
type Protocol struct {
	name     string
	priority int
	backend  *Backend
}

// NewProtocol returns the variant called name.
func NewProtocol(name string, backend *Backend) (*Protocol, error) {
	if !slices.Contains(protocolNames, name) {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownProtocol, name)
	}
	return &Protocol{name: name, priority: defaultPriority, backend: backend}, nil
}

// Name returns the protocol identifier.
func (p *Protocol) Name() string {
	return p.name
}

// Priority ranks this variant against other backends; higher wins.
func (p *Protocol) Priority() int {
	return p.priority
}

// IsUsable reports whether NetworkManager and its OpenVPN plugin are
// available.
func (p *Protocol) IsUsable(ctx context.Context) bool {
	if p.backend == nil || p.backend.Prober == nil {
		return false
	}
	if err := p.backend.Prober.Probe(ctx); err != nil {
		p.backend.logger().Debug("Protocol %s not usable: %v", p.name, err)
		return false
	}
	return true
}

// Setup builds the profile for target and submits it for registration.
// Errors building the profile are returned directly; registration failures
// are reported through the future.
func (p *Protocol) Setup(ctx context.Context, target Target) (*Future, error) {
	if p.backend == nil || p.backend.Importer == nil || p.backend.Registrar == nil {
		return nil, fmt.Errorf("%w: backend is not configured", common.ErrNotUsable)
	}

	raw, err := NewRawConfig(p.name, target, p.backend.DeviceName)
	if err != nil {
		return nil, err
	}

	builder := NewBuilder(p.backend.Importer, target, p.backend.Env, p.backend.logger())
	profile, err := builder.ConfigureConnection(ctx, raw)
	if err != nil {
		return nil, err
	}

	p.backend.logger().Info("Registering %s over %s", profile.Connection.ID, p.name)
	return p.backend.Registrar.AddConnectionAsync(ctx, profile), nil
}
