package vpn

import (
	"context"
	"errors"
	"sync"
)

type fakeCredentials struct {
	username string
	password string
	err      error
	// entered receives a value when UserPass is called, if set.
	entered chan struct{}
	// release blocks UserPass until it is closed, if set.
	release chan struct{}

	mu     sync.Mutex
	calls  int
	forced []bool
}

func (f *fakeCredentials) UserPass(_ context.Context, forceFetch bool) (string, string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.forced = append(f.forced, forceFetch)
	if f.err != nil {
		return "", "", f.err
	}
	return f.username, f.password, nil
}

type fakeSettings struct {
	protocol string
	material TLSMaterial
}

func (s fakeSettings) Protocol() string         { return s.protocol }
func (s fakeSettings) TLSMaterial() TLSMaterial { return s.material }

type fakeDNSSettings struct {
	fakeSettings
	dns []string
}

func (s fakeDNSSettings) DNSCustomIPs() []string { return s.dns }

type fakeImporter struct {
	err     error
	profile *Profile
	calls   int
}

func (f *fakeImporter) Import(ctx context.Context, raw *RawConfig) (*Profile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.profile != nil {
		return f.profile, nil
	}
	return NewOVPNImporter("").Import(ctx, raw)
}

type fakeRegistrar struct {
	mu       sync.Mutex
	profiles []*Profile
	// hold keeps futures pending until it is closed.
	hold chan struct{}
	path string
	err  error
}

func (f *fakeRegistrar) AddConnectionAsync(_ context.Context, profile *Profile) *Future {
	f.mu.Lock()
	f.profiles = append(f.profiles, profile)
	f.mu.Unlock()

	future := NewFuture(profile.UUID())
	go func() {
		if f.hold != nil {
			<-f.hold
		}
		future.Resolve(f.path, f.err)
	}()
	return future
}

func (f *fakeRegistrar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.profiles)
}

type fakeProber struct {
	err error
}

func (f fakeProber) Probe(context.Context) error { return f.err }

var errProbe = errors.New("daemon not running")

func testEnv(username string, euid int) Environment {
	return Environment{
		CurrentUser: func() (string, error) { return username, nil },
		Geteuid:     func() int { return euid },
	}
}

func testServer() Server {
	return Server{
		Name:    "NL#7",
		Domain:  "node-01.example.net",
		EntryIP: "203.0.113.7",
	}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...interface{}) {}
func (discardLogger) Info(string, ...interface{})  {}
func (discardLogger) Warn(string, ...interface{})  {}
func (discardLogger) Error(string, ...interface{}) {}
