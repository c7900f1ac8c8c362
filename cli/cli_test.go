package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yllada/nm-openvpn/common"
	"github.com/yllada/nm-openvpn/config"
	"github.com/yllada/nm-openvpn/servers"
	"github.com/yllada/nm-openvpn/vpn"
)

type fakeDaemon struct {
	probeErr error
	regErr   error
	plugin   bool
	profiles []*vpn.Profile
	closed   bool
}

func (d *fakeDaemon) AddConnectionAsync(_ context.Context, p *vpn.Profile) *vpn.Future {
	d.profiles = append(d.profiles, p)
	f := vpn.NewFuture(p.UUID())
	if d.regErr != nil {
		f.Resolve("", d.regErr)
	} else {
		f.Resolve("/org/freedesktop/NetworkManager/Settings/4", nil)
	}
	return f
}

func (d *fakeDaemon) Probe(context.Context) error { return d.probeErr }

func (d *fakeDaemon) Version(context.Context) (string, error) {
	if d.probeErr != nil {
		return "", d.probeErr
	}
	return "1.46.0", nil
}

func (d *fakeDaemon) PluginPath() (string, bool) {
	if d.plugin {
		return "/usr/lib/NetworkManager/VPN/" + common.OpenVPNPluginFile, true
	}
	return "", false
}

func (d *fakeDaemon) Close() error {
	d.closed = true
	return nil
}

type fakeStore struct {
	username, password string
	file               bool
	deleteErr          error
}

func (s *fakeStore) UserPass(context.Context, bool) (string, string, error) {
	if s.username == "" {
		return "", "", common.ErrCredentialsNotFound
	}
	return s.username, s.password, nil
}

func (s *fakeStore) Save(username, password string) error {
	s.username, s.password = username, password
	return nil
}

func (s *fakeStore) Delete() error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.username, s.password = "", ""
	return nil
}

func (s *fakeStore) Exists() bool   { return s.username != "" }
func (s *fakeStore) UsesFile() bool { return s.file }

func newTestCLI(t *testing.T, d *fakeDaemon) (*CLI, *bytes.Buffer) {
	t.Helper()
	catalog, err := servers.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { catalog.Close() })

	out := &bytes.Buffer{}
	return &CLI{
		cfg:     config.DefaultConfig(),
		catalog: catalog,
		store:   &fakeStore{username: "alice", password: "s3cret"},
		certDir: t.TempDir(),
		env: vpn.Environment{
			CurrentUser: func() (string, error) { return "alice", nil },
			Geteuid:     func() int { return 1000 },
		},
		out:          out,
		connect:      func() (daemon, error) { return d, nil },
		readPassword: func() (string, error) { return "typed", nil },
	}, out
}

func addTestServer(t *testing.T, c *CLI) {
	t.Helper()
	err := c.catalog.Add(context.Background(), vpn.Server{
		Name: "NL#7", Domain: "node-01.example.net", EntryIP: "203.0.113.7", Label: "Amsterdam",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCLI_ListServers(t *testing.T) {
	c, out := newTestCLI(t, &fakeDaemon{})

	if err := c.ListServers(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No servers") {
		t.Errorf("empty catalog output = %q", out.String())
	}

	out.Reset()
	addTestServer(t, c)
	if err := c.ListServers(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"NAME", "NL#7", "Amsterdam", "203.0.113.7"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("ListServers() output missing %q:\n%s", want, out.String())
		}
	}
}

func TestParseServerSpec(t *testing.T) {
	tests := []struct {
		spec    string
		want    vpn.Server
		wantErr bool
	}{
		{"CH#1,ch1.example.net,198.51.100.1", vpn.Server{Name: "CH#1", Domain: "ch1.example.net", EntryIP: "198.51.100.1"}, false},
		{"CH#1, ch1.example.net , 198.51.100.1,Zurich", vpn.Server{Name: "CH#1", Domain: "ch1.example.net", EntryIP: "198.51.100.1", Label: "Zurich"}, false},
		{"CH#1,ch1.example.net", vpn.Server{}, true},
		{"CH#1,,198.51.100.1", vpn.Server{}, true},
		{"a,b,c,d,e", vpn.Server{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := parseServerSpec(tt.spec)
			if tt.wantErr {
				if !errors.Is(err, common.ErrInvalidServer) {
					t.Errorf("parseServerSpec() error = %v, want ErrInvalidServer", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseServerSpec() error = %v", err)
			}
			if got.Name != tt.want.Name || got.Domain != tt.want.Domain || got.EntryIP != tt.want.EntryIP || got.Label != tt.want.Label {
				t.Errorf("parseServerSpec() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCLI_AddAndImportServers(t *testing.T) {
	ctx := context.Background()
	c, out := newTestCLI(t, &fakeDaemon{})

	if err := c.AddServer(ctx, "CH#1,ch1.example.net,198.51.100.1,Zurich"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Added CH#1 (Zurich)") {
		t.Errorf("AddServer() output = %q", out.String())
	}

	path := filepath.Join(t.TempDir(), "servers.yaml")
	doc := "servers:\n  - name: DE#3\n    domain: de3.example.net\n    entry_ip: 198.51.100.3\n"
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}
	if err := c.ImportServers(ctx, path); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Imported 1 servers") {
		t.Errorf("ImportServers() output = %q", out.String())
	}

	list, _ := c.catalog.List(ctx)
	if len(list) != 2 {
		t.Errorf("catalog has %d servers, want 2", len(list))
	}

	if err := c.ImportServers(ctx, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("ImportServers() of a missing file should fail")
	}
}

func TestCLI_RemoveServer(t *testing.T) {
	ctx := context.Background()
	c, out := newTestCLI(t, &fakeDaemon{})
	addTestServer(t, c)

	if err := c.RemoveServer(ctx, "NL#7"); err != nil {
		t.Fatalf("RemoveServer() error = %v", err)
	}
	if !strings.Contains(out.String(), "Removed NL#7") {
		t.Errorf("RemoveServer() output = %q", out.String())
	}
	if _, err := c.catalog.Get(ctx, "NL#7"); !errors.Is(err, common.ErrServerNotFound) {
		t.Errorf("Get() after RemoveServer error = %v, want ErrServerNotFound", err)
	}
	if err := c.RemoveServer(ctx, "NL#7"); !errors.Is(err, common.ErrServerNotFound) {
		t.Errorf("second RemoveServer() error = %v, want ErrServerNotFound", err)
	}
}

func TestCLI_Setup(t *testing.T) {
	ctx := context.Background()
	d := &fakeDaemon{plugin: true}
	c, out := newTestCLI(t, d)
	c.cfg.DNSCustomIPs = []string{"10.2.0.1"}
	addTestServer(t, c)

	if err := c.Setup(ctx, "NL#7", vpn.ProtocolUDP); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !strings.Contains(out.String(), "Registered NL#7 (Amsterdam) over openvpn-udp") {
		t.Errorf("Setup() output = %q", out.String())
	}

	if len(d.profiles) != 1 {
		t.Fatalf("daemon received %d profiles, want 1", len(d.profiles))
	}
	p := d.profiles[0]
	if got, _ := p.VPN.DataItem(vpn.KeyUsername); got != "alice" {
		t.Errorf("username = %q", got)
	}
	if p.Connection.InterfaceName != common.DefaultDeviceName {
		t.Errorf("InterfaceName = %q", p.Connection.InterfaceName)
	}
	if !p.IPv4.IgnoreAutoDNS || len(p.IPv4.DNS) != 1 {
		t.Errorf("IPv4 DNS = %v (ignore auto %v)", p.IPv4.DNS, p.IPv4.IgnoreAutoDNS)
	}

	history, err := c.catalog.History(ctx, "NL#7", 5)
	if err != nil || len(history) != 1 {
		t.Fatalf("History() = %v, %v", history, err)
	}
	if history[0].UUID != p.UUID() || history[0].Protocol != vpn.ProtocolUDP || history[0].Status != vpn.StatusRegistered {
		t.Errorf("recorded registration = %+v", history[0])
	}

	out.Reset()
	if err := c.History(ctx, "NL#7"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), p.UUID()) {
		t.Errorf("History() output missing uuid:\n%s", out.String())
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !d.closed {
		t.Error("Close() should close the daemon connection")
	}
}

func TestCLI_SetupFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown server", func(t *testing.T) {
		c, _ := newTestCLI(t, &fakeDaemon{})
		if err := c.Setup(ctx, "XX#1", ""); !errors.Is(err, common.ErrServerNotFound) {
			t.Errorf("Setup() error = %v, want ErrServerNotFound", err)
		}
	})

	t.Run("daemon down", func(t *testing.T) {
		c, _ := newTestCLI(t, &fakeDaemon{probeErr: common.ErrDaemonUnavailable})
		addTestServer(t, c)
		if err := c.Setup(ctx, "NL#7", ""); !errors.Is(err, common.ErrNoUsableProtocol) {
			t.Errorf("Setup() error = %v, want ErrNoUsableProtocol", err)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		c, _ := newTestCLI(t, &fakeDaemon{regErr: common.ErrRegistrationFailed})
		addTestServer(t, c)
		if err := c.Setup(ctx, "NL#7", vpn.ProtocolTCP); !errors.Is(err, common.ErrRegistrationFailed) {
			t.Errorf("Setup() error = %v, want ErrRegistrationFailed", err)
		}
		history, _ := c.catalog.History(ctx, "NL#7", 5)
		if len(history) != 1 || history[0].Status != vpn.StatusFailed {
			t.Errorf("failed registration not recorded: %+v", history)
		}
	})

	t.Run("connect fails", func(t *testing.T) {
		c, _ := newTestCLI(t, nil)
		c.connect = func() (daemon, error) { return nil, common.ErrDaemonUnavailable }
		addTestServer(t, c)
		if err := c.Setup(ctx, "NL#7", ""); !errors.Is(err, common.ErrDaemonUnavailable) {
			t.Errorf("Setup() error = %v, want ErrDaemonUnavailable", err)
		}
	})
}

func TestCLI_Pick(t *testing.T) {
	ctx := context.Background()
	d := &fakeDaemon{plugin: true}
	c, out := newTestCLI(t, d)

	if err := c.Pick(ctx, ""); !errors.Is(err, common.ErrServerNotFound) {
		t.Errorf("Pick() on empty catalog error = %v, want ErrServerNotFound", err)
	}

	addTestServer(t, c)
	c.pick = func(list []vpn.Server) (vpn.Server, bool, error) { return vpn.Server{}, false, nil }
	if err := c.Pick(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Cancelled") || len(d.profiles) != 0 {
		t.Errorf("cancelled pick should not register anything, output %q", out.String())
	}

	c.pick = func(list []vpn.Server) (vpn.Server, bool, error) { return list[0], true, nil }
	if err := c.Pick(ctx, ""); err != nil {
		t.Fatalf("Pick() error = %v", err)
	}
	if len(d.profiles) != 1 {
		t.Errorf("daemon received %d profiles, want 1", len(d.profiles))
	}
}

func TestCLI_StoreCredentials(t *testing.T) {
	c, out := newTestCLI(t, &fakeDaemon{})
	store := &fakeStore{}
	c.store = store

	if err := c.StoreCredentials("  bob "); err != nil {
		t.Fatal(err)
	}
	if store.username != "bob" || store.password != "typed" {
		t.Errorf("stored %q/%q, want bob/typed", store.username, store.password)
	}
	if !strings.Contains(out.String(), "Credentials stored for bob") {
		t.Errorf("output = %q", out.String())
	}
	if err := c.StoreCredentials(""); err == nil {
		t.Error("StoreCredentials(\"\") should fail")
	}

	errAbort := errors.New("aborted")
	c.readPassword = func() (string, error) { return "", errAbort }
	if err := c.StoreCredentials("bob"); err != errAbort {
		t.Errorf("StoreCredentials() error = %v, want %v", err, errAbort)
	}
}

func TestCLI_ForgetCredentials(t *testing.T) {
	c, out := newTestCLI(t, &fakeDaemon{})
	store := &fakeStore{username: "alice", password: "s3cret"}
	c.store = store

	if err := c.ForgetCredentials(); err != nil {
		t.Fatalf("ForgetCredentials() error = %v", err)
	}
	if store.Exists() {
		t.Error("credentials still stored after ForgetCredentials")
	}
	if !strings.Contains(out.String(), "Credentials removed") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := c.ForgetCredentials(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No credentials stored") {
		t.Errorf("output = %q", out.String())
	}

	errLocked := errors.New("keyring locked")
	c.store = &fakeStore{username: "alice", password: "s3cret", deleteErr: errLocked}
	if err := c.ForgetCredentials(); !errors.Is(err, errLocked) || !errors.Is(err, common.ErrCredentialStorage) {
		t.Errorf("ForgetCredentials() error = %v, want %v wrapped in ErrCredentialStorage", err, errLocked)
	}
}

func TestCLI_CheckCredentials(t *testing.T) {
	tests := []struct {
		name           string
		store          *fakeStore
		useCertificate bool
		want           string
	}{
		{"keyring", &fakeStore{username: "alice", password: "p"}, false, "Credentials stored (system keyring)"},
		{"file", &fakeStore{username: "alice", password: "p", file: true}, false, "Credentials stored (encrypted file)"},
		{"missing", &fakeStore{}, false, "you will be prompted (system keyring)"},
		{"certificate", &fakeStore{}, true, "certificate authentication"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, out := newTestCLI(t, &fakeDaemon{plugin: true})
			c.store = tt.store
			c.cfg.UseCertificate = tt.useCertificate

			if err := c.Check(context.Background()); err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("Check() output missing %q:\n%s", tt.want, out.String())
			}
		})
	}
}

func TestCLI_Check(t *testing.T) {
	ctx := context.Background()

	c, out := newTestCLI(t, &fakeDaemon{plugin: true})
	if err := c.Check(ctx); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	for _, want := range []string{"NetworkManager 1.46.0", common.OpenVPNPluginFile, "openvpn-tcp (priority 1)", "openvpn-udp (priority 1)"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Check() output missing %q:\n%s", want, out.String())
		}
	}

	down, _ := newTestCLI(t, &fakeDaemon{probeErr: common.ErrDaemonUnavailable})
	if err := down.Check(ctx); !errors.Is(err, common.ErrDaemonUnavailable) {
		t.Errorf("Check() error = %v, want ErrDaemonUnavailable", err)
	}

	noPlugin, out := newTestCLI(t, &fakeDaemon{probeErr: nil})
	noPlugin.connect = func() (daemon, error) {
		return &fakeDaemon{probeErr: nil, plugin: false}, nil
	}
	if err := noPlugin.Check(ctx); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !strings.Contains(out.String(), "plugin not installed") {
		t.Errorf("Check() output = %q", out.String())
	}
}
