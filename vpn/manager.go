// Package vpn provides profile assembly for NetworkManager OpenVPN connections.
// This file contains the Manager type which runs setups and tracks the
// resulting registrations.
package vpn

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yllada/nm-openvpn/common"
)

// RegistrationStatus represents the state of a connection registration.
type RegistrationStatus int

const (
	// StatusPending indicates NetworkManager has not answered yet.
	StatusPending RegistrationStatus = iota
	// StatusRegistered indicates the connection was stored.
	StatusRegistered
	// StatusFailed indicates the setup or registration failed.
	StatusFailed
)

// String returns a human-readable representation of the status.
func (s RegistrationStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusRegistered:
		return "Registered"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Registration records the outcome of one setup.
type Registration struct {
	Server   string
	Protocol string
	// UUID identifies the NetworkManager connection.
	UUID string
	// Path is the D-Bus object path assigned by NetworkManager.
	Path      string
	Status    RegistrationStatus
	LastError string
	Started   time.Time
	Finished  time.Time
}

// Manager runs setups through a Registry. Concurrent setups for the same
// server and protocol share one in-flight registration.
type Manager struct {
	registry *Registry
	logger   common.Logger

	mu            sync.Mutex
	inflight      map[string]*inflightSetup
	registrations map[string]*Registration
}

// inflightSetup is a setup whose profile may still be building. ready is
// closed once future or err is set.
type inflightSetup struct {
	ready  chan struct{}
	future *Future
	err    error
}

// NewManager creates a manager selecting protocols from registry.
func NewManager(registry *Registry, logger common.Logger) *Manager {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Manager{
		registry:      registry,
		logger:        logger,
		inflight:      make(map[string]*inflightSetup),
		registrations: make(map[string]*Registration),
	}
}

// Registry returns the protocol registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

func setupKey(server, protocol string) string {
	return server + "/" + protocol
}

// Setup selects protocol (or the best usable one when empty) and runs its
// setup for target. If a setup for the same server and protocol is still
// pending, Setup waits until its profile is built and returns the same
// future.
func (m *Manager) Setup(ctx context.Context, protocol string, target Target) (*Future, error) {
	p, err := m.registry.Select(ctx, protocol)
	if err != nil {
		return nil, err
	}

	key := setupKey(target.Server.Name, p.Name())

	m.mu.Lock()
	if s, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		m.logger.Info("Setup for %s already in progress, reusing it", key)
		select {
		case <-s.ready:
			return s.future, s.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s := &inflightSetup{ready: make(chan struct{})}
	m.inflight[key] = s
	reg := &Registration{
		Server:   target.Server.Name,
		Protocol: p.Name(),
		Status:   StatusPending,
		Started:  time.Now(),
	}
	m.registrations[key] = reg
	m.mu.Unlock()

	future, err := p.Setup(ctx, target)
	if err != nil {
		m.finish(key, reg, "", err)
		s.err = err
		close(s.ready)
		return nil, err
	}

	m.mu.Lock()
	reg.UUID = future.UUID()
	m.mu.Unlock()
	s.future = future
	close(s.ready)

	go func() {
		path, err := future.Wait(context.Background())
		m.finish(key, reg, path, err)
	}()

	return future, nil
}

func (m *Manager) finish(key string, reg *Registration, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inflight, key)
	reg.Finished = time.Now()
	if err != nil {
		reg.Status = StatusFailed
		reg.LastError = err.Error()
		m.logger.Error("Setup for %s failed: %v", key, err)
		return
	}
	reg.Status = StatusRegistered
	reg.Path = path
	m.logger.Info("Registered %s as %s", key, path)
}

// Registrations returns the latest registration of every server and
// protocol pair, sorted by server then protocol.
func (m *Manager) Registrations() []Registration {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Registration, 0, len(m.registrations))
	for _, reg := range m.registrations {
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].Protocol < out[j].Protocol
	})
	return out
}

// RegistrationByUUID returns the registration of the connection uuid.
func (m *Manager) RegistrationByUUID(uuid string) (Registration, bool) {
	if uuid == "" {
		return Registration{}, false
	}
	for _, reg := range m.Registrations() {
		if reg.UUID == uuid {
			return reg, true
		}
	}
	return Registration{}, false
}
