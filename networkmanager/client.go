// Package networkmanager registers connection profiles with the
// NetworkManager daemon over the system D-Bus.
package networkmanager

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/nm-openvpn/common"
	"github.com/yllada/nm-openvpn/vpn"
)

// D-Bus names used by the client.
const (
	busName         = "org.freedesktop.NetworkManager"
	managerPath     = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	settingsPath    = dbus.ObjectPath("/org/freedesktop/NetworkManager/Settings")
	addConnection   = "org.freedesktop.NetworkManager.Settings.AddConnection"
	propertiesGet   = "org.freedesktop.DBus.Properties.Get"
	versionProperty = "Version"
)

// DefaultPluginDirs are searched for the OpenVPN plugin descriptor.
var DefaultPluginDirs = []string{
	"/usr/lib/NetworkManager/VPN",
	"/etc/NetworkManager/VPN",
}

// busObject is the subset of dbus.BusObject the client calls.
type busObject interface {
	GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call
}

// Client talks to NetworkManager. It implements vpn.Registrar and
// vpn.Prober.
type Client struct {
	conn       *dbus.Conn
	manager    busObject
	settings   busObject
	pluginDirs []string
	logger     common.Logger
}

// Connect opens the system bus.
func Connect(logger common.Logger) (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDaemonUnavailable, err)
	}

	c := newClient(conn.Object(busName, managerPath), conn.Object(busName, settingsPath), logger)
	c.conn = conn
	return c, nil
}

func newClient(manager, settings busObject, logger common.Logger) *Client {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Client{
		manager:    manager,
		settings:   settings,
		pluginDirs: DefaultPluginDirs,
		logger:     logger,
	}
}

// Close releases the bus connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// call issues method and waits for its reply or ctx.
func call(ctx context.Context, obj busObject, method string, args ...interface{}) (*dbus.Call, error) {
	ch := make(chan *dbus.Call, 1)
	obj.GoWithContext(ctx, method, 0, ch, args...)

	select {
	case reply := <-ch:
		if reply.Err != nil {
			return nil, reply.Err
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AddConnectionAsync asks NetworkManager to store profile. The returned
// future resolves with the new connection's object path.
func (c *Client) AddConnectionAsync(ctx context.Context, profile *vpn.Profile) *vpn.Future {
	future := vpn.NewFuture(profile.UUID())

	settings, err := EncodeProfile(profile)
	if err != nil {
		future.Resolve("", err)
		return future
	}

	go func() {
		reply, err := call(ctx, c.settings, addConnection, settings)
		if err != nil {
			c.logger.Error("AddConnection for %s failed: %v", profile.UUID(), err)
			future.Resolve("", fmt.Errorf("%w: %w", common.ErrRegistrationFailed, err))
			return
		}

		var path dbus.ObjectPath
		if err := reply.Store(&path); err != nil {
			future.Resolve("", fmt.Errorf("%w: %w", common.ErrRegistrationFailed, err))
			return
		}
		c.logger.Debug("Connection %s stored at %s", profile.UUID(), path)
		future.Resolve(string(path), nil)
	}()

	return future
}

// Version returns the daemon version.
func (c *Client) Version(ctx context.Context) (string, error) {
	reply, err := call(ctx, c.manager, propertiesGet, busName, versionProperty)
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrDaemonUnavailable, err)
	}

	var v dbus.Variant
	if err := reply.Store(&v); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrDaemonUnavailable, err)
	}
	version, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("%w: unexpected version type %s", common.ErrDaemonUnavailable, v.Signature())
	}
	return version, nil
}

// Probe checks that the daemon answers and the OpenVPN plugin is installed.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, common.ProbeTimeout)
	defer cancel()

	version, err := c.Version(ctx)
	if err != nil {
		return err
	}
	c.logger.Debug("NetworkManager %s is running", version)

	if _, ok := c.PluginPath(); !ok {
		return common.ErrPluginMissing
	}
	return nil
}

// PluginPath returns the installed OpenVPN plugin descriptor.
func (c *Client) PluginPath() (string, bool) {
	for _, dir := range c.pluginDirs {
		path := filepath.Join(dir, common.OpenVPNPluginFile)
		if common.FileExists(path) {
			return path, true
		}
	}
	return "", false
}
