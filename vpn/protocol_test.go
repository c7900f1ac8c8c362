package vpn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yllada/nm-openvpn/common"
)

func newTestBackend(registrar *fakeRegistrar, prober Prober) *Backend {
	return &Backend{
		Importer:  NewOVPNImporter(""),
		Registrar: registrar,
		Prober:    prober,
		Env:       testEnv("alice", 1000),
		Logger:    discardLogger{},
	}
}

func TestProtocol_Identity(t *testing.T) {
	backend := newTestBackend(&fakeRegistrar{}, fakeProber{})
	protocols := backend.Protocols()

	if len(protocols) != 2 {
		t.Fatalf("Protocols() returned %d variants, want 2", len(protocols))
	}
	if protocols[0].Name() != "openvpn-tcp" || protocols[1].Name() != "openvpn-udp" {
		t.Errorf("Protocols() = %s, %s", protocols[0].Name(), protocols[1].Name())
	}
	for _, p := range protocols {
		if p.Priority() != 1 {
			t.Errorf("%s Priority() = %d, want 1", p.Name(), p.Priority())
		}
	}

	if _, err := NewProtocol("ikev2", backend); !errors.Is(err, common.ErrUnknownProtocol) {
		t.Errorf("NewProtocol(ikev2) error = %v, want ErrUnknownProtocol", err)
	}
}

func TestProtocol_IsUsable(t *testing.T) {
	tests := []struct {
		name    string
		backend *Backend
		want    bool
	}{
		{"probe ok", newTestBackend(&fakeRegistrar{}, fakeProber{}), true},
		{"probe fails", newTestBackend(&fakeRegistrar{}, fakeProber{err: errProbe}), false},
		{"no prober", newTestBackend(&fakeRegistrar{}, nil), false},
		{"no backend", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Protocol{name: ProtocolUDP, priority: defaultPriority, backend: tt.backend}
			if got := p.IsUsable(context.Background()); got != tt.want {
				t.Errorf("IsUsable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProtocol_Setup(t *testing.T) {
	registrar := &fakeRegistrar{path: "/org/freedesktop/NetworkManager/Settings/3"}
	p, err := NewProtocol(ProtocolTCP, newTestBackend(registrar, fakeProber{}))
	if err != nil {
		t.Fatal(err)
	}

	target := Target{
		Server:      testServer(),
		Credentials: &fakeCredentials{username: "alice", password: "s3cret"},
		Settings:    fakeDNSSettings{dns: []string{"10.2.0.1"}},
	}
	future, err := p.Setup(context.Background(), target)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	path, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if path != registrar.path {
		t.Errorf("Wait() path = %q, want %q", path, registrar.path)
	}

	if registrar.count() != 1 {
		t.Fatalf("registrar received %d profiles, want 1", registrar.count())
	}
	profile := registrar.profiles[0]
	if future.UUID() != profile.UUID() {
		t.Errorf("future UUID = %q, want %q", future.UUID(), profile.UUID())
	}
	if got, _ := profile.VPN.DataItem("proto-tcp"); got != "yes" {
		t.Errorf("proto-tcp = %q, want yes", got)
	}
	if got, _ := profile.VPN.DataItem(KeyVerifyX509Name); got != "name:node-01.example.net" {
		t.Errorf("verify-x509-name = %q", got)
	}
}

func TestProtocol_SetupErrors(t *testing.T) {
	errKeyring := errors.New("keyring locked")
	registrar := &fakeRegistrar{}
	p, _ := NewProtocol(ProtocolUDP, newTestBackend(registrar, fakeProber{}))

	_, err := p.Setup(context.Background(), Target{
		Server:      testServer(),
		Credentials: &fakeCredentials{err: errKeyring},
	})
	if err != errKeyring {
		t.Errorf("Setup() error = %v, want %v", err, errKeyring)
	}
	if registrar.count() != 0 {
		t.Error("nothing should be registered when the build fails")
	}

	unconfigured := &Protocol{name: ProtocolUDP, backend: &Backend{}}
	if _, err := unconfigured.Setup(context.Background(), Target{Server: testServer()}); !errors.Is(err, common.ErrNotUsable) {
		t.Errorf("Setup() without collaborators error = %v, want ErrNotUsable", err)
	}
}

func TestProtocol_SetupRegistrationFailure(t *testing.T) {
	errRejected := errors.New("invalid property")
	registrar := &fakeRegistrar{err: errRejected}
	p, _ := NewProtocol(ProtocolUDP, newTestBackend(registrar, fakeProber{}))

	future, err := p.Setup(context.Background(), Target{
		Server:      testServer(),
		Credentials: &fakeCredentials{username: "u", password: "p"},
	})
	if err != nil {
		t.Fatalf("Setup() error = %v, registration failures belong to the future", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := future.Wait(ctx); err != errRejected {
		t.Errorf("Wait() error = %v, want %v", err, errRejected)
	}
}

func TestRegistry_Select(t *testing.T) {
	usable := newTestBackend(&fakeRegistrar{}, fakeProber{})
	broken := newTestBackend(&fakeRegistrar{}, fakeProber{err: errProbe})

	tcp, _ := NewProtocol(ProtocolTCP, broken)
	udp, _ := NewProtocol(ProtocolUDP, usable)
	registry := NewRegistry(tcp, udp)

	got, err := registry.Select(context.Background(), "")
	if err != nil {
		t.Fatalf("Select(\"\") error = %v", err)
	}
	if got.Name() != ProtocolUDP {
		t.Errorf("Select(\"\") = %s, want the usable %s", got.Name(), ProtocolUDP)
	}

	if _, err := registry.Select(context.Background(), ProtocolTCP); !errors.Is(err, common.ErrNotUsable) {
		t.Errorf("Select(tcp) error = %v, want ErrNotUsable", err)
	}
	if _, err := registry.Select(context.Background(), "openvpn-sctp"); !errors.Is(err, common.ErrUnknownProtocol) {
		t.Errorf("Select(sctp) error = %v, want ErrUnknownProtocol", err)
	}

	none := NewRegistry(tcp)
	if _, err := none.Select(context.Background(), ""); !errors.Is(err, common.ErrNoUsableProtocol) {
		t.Errorf("Select() with nothing usable error = %v, want ErrNoUsableProtocol", err)
	}
}

func TestRegistry_SelectPrefersPriority(t *testing.T) {
	backend := newTestBackend(&fakeRegistrar{}, fakeProber{})
	low := &Protocol{name: ProtocolTCP, priority: 1, backend: backend}
	high := &Protocol{name: ProtocolUDP, priority: 5, backend: backend}

	got, err := NewRegistry(low, high).Select(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if got != high {
		t.Errorf("Select() = %s, want the higher priority %s", got.Name(), high.Name())
	}

	tie, err := NewRegistry(backend.Protocols()...).Select(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if tie.Name() != ProtocolTCP {
		t.Errorf("Select() on a tie = %s, want registration order (%s)", tie.Name(), ProtocolTCP)
	}
}
