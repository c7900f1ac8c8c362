// Package vpn provides profile assembly for NetworkManager OpenVPN connections.
// This file contains the Builder, which owns every mutation applied to an
// imported profile.
package vpn

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"slices"

	"github.com/yllada/nm-openvpn/common"
)

// Environment describes the local user the profile is built for.
type Environment struct {
	// CurrentUser returns the login name of the invoking user.
	CurrentUser func() (string, error)
	// Geteuid returns the effective user id.
	Geteuid func() int
}

// SystemEnvironment reads the user from the running process.
func SystemEnvironment() Environment {
	return Environment{
		CurrentUser: currentUsername,
		Geteuid:     os.Geteuid,
	}
}

func currentUsername() (string, error) {
	for _, key := range []string{"LOGNAME", "USER"} {
		if name := os.Getenv(key); name != "" {
			return name, nil
		}
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to determine current user: %w", err)
	}
	return u.Username, nil
}

// Builder turns a RawConfig into a Profile ready for registration.
// A Builder serves a single setup attempt.
type Builder struct {
	importer    Importer
	server      Server
	credentials Credentials
	settings    Settings
	env         Environment
	logger      common.Logger

	uniqueID string
}

// NewBuilder returns a builder for target, importing with importer.
func NewBuilder(importer Importer, target Target, env Environment, logger common.Logger) *Builder {
	if env.CurrentUser == nil || env.Geteuid == nil {
		sys := SystemEnvironment()
		if env.CurrentUser == nil {
			env.CurrentUser = sys.CurrentUser
		}
		if env.Geteuid == nil {
			env.Geteuid = sys.Geteuid
		}
	}
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Builder{
		importer:    importer,
		server:      target.Server,
		credentials: target.Credentials,
		settings:    target.Settings,
		env:         env,
		logger:      logger,
	}
}

// UniqueID returns the UUID of the last profile configured by this builder.
func (b *Builder) UniqueID() string {
	return b.uniqueID
}

// ConfigureConnection imports raw and applies, in order: user ownership,
// peer name verification, DNS preferences, the display name and, for
// password authentication, the credentials.
//
// Importer and credential errors are returned unchanged. No I/O against
// NetworkManager happens here.
func (b *Builder) ConfigureConnection(ctx context.Context, raw *RawConfig) (*Profile, error) {
	profile, err := b.importer.Import(ctx, raw)
	if err != nil {
		return nil, err
	}

	b.uniqueID = profile.UUID()

	if err := b.makeUserOwned(profile); err != nil {
		return nil, err
	}
	b.addServerCertificateCheck(profile)
	b.configureDNS(profile)
	b.setConnectionID(profile)

	if !raw.UseCertificate {
		if err := b.addCredentials(ctx, profile); err != nil {
			return nil, err
		}
	}

	b.logger.Debug("Configured connection %s (%s) for %s", profile.Connection.ID, b.uniqueID, raw.Protocol)
	return profile, nil
}

func (b *Builder) makeUserOwned(profile *Profile) error {
	username, err := b.env.CurrentUser()
	if err != nil {
		return err
	}
	profile.Connection.Permissions = nil
	profile.Connection.AddPermission(PermissionUser, username)
	return nil
}

func (b *Builder) addServerCertificateCheck(profile *Profile) {
	profile.VPN.AddDataItem(KeyVerifyX509Name, "name:"+b.server.Domain)
}

func (b *Builder) configureDNS(profile *Profile) {
	profile.IPv4.DNSPriority = DNSPriority
	profile.IPv6.DNSPriority = DNSPriority

	dns, ok := b.settings.(DNSSettings)
	if !ok {
		b.logger.Debug("Settings carry no custom DNS, keeping automatic DNS")
		return
	}
	servers := dns.DNSCustomIPs()
	if len(servers) == 0 {
		return
	}

	profile.IPv4.IgnoreAutoDNS = true
	profile.IPv4.DNS = slices.Clone(servers)
}

func (b *Builder) setConnectionID(profile *Profile) {
	profile.Connection.ID = b.server.DisplayName()
}

func (b *Builder) addCredentials(ctx context.Context, profile *Profile) error {
	if b.credentials == nil {
		return fmt.Errorf("%w: password authentication without a credential source", common.ErrCredentialsNotFound)
	}
	username, password, err := b.credentials.UserPass(ctx, true)
	if err != nil {
		return err
	}

	profile.VPN.AddDataItem(KeyUsername, username)

	// As root there is no secret agent to answer NetworkManager, so the
	// password is stored system-wide (flags 0) to allow headless use.
	// Every other user keeps the agent-owned default.
	if b.env.Geteuid() == 0 {
		profile.VPN.AddDataItem(KeyPasswordFlags, "0")
	}
	profile.VPN.AddSecret(KeyPassword, password)
	return nil
}
