// Package vpn provides profile assembly for NetworkManager OpenVPN connections.
// This file contains the Profile type and its setting groups.
package vpn

import (
	"errors"
	"slices"
)

// DNSPriority is applied to both IP families of every generated profile.
// Negative values make NetworkManager use only this connection's resolvers
// while it is active, which keeps queries from leaking to other interfaces.
const DNSPriority = -1500

// Permission types understood by NetworkManager.
const (
	PermissionUser = "user"
)

// VPN data item keys written by the builder.
const (
	KeyVerifyX509Name = "verify-x509-name"
	KeyUsername       = "username"
	KeyPassword       = "password"
	KeyPasswordFlags  = "password-flags"
)

// ErrUUIDAlreadySet is returned when a profile's UUID is overwritten.
var ErrUUIDAlreadySet = errors.New("connection uuid already set")

// Permission restricts which local user may activate a connection.
type Permission struct {
	Type      string `json:"type"`
	Principal string `json:"principal"`
}

// ConnectionSettings holds the identity of a NetworkManager connection.
type ConnectionSettings struct {
	// ID is the display name.
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	InterfaceName string       `json:"interface_name,omitempty"`
	Autoconnect   bool         `json:"autoconnect"`
	Permissions   []Permission `json:"permissions,omitempty"`

	uuid string
}

// UUID returns the connection's unique identifier.
func (c *ConnectionSettings) UUID() string {
	return c.uuid
}

// SetUUID assigns the unique identifier. It may only be set once.
func (c *ConnectionSettings) SetUUID(id string) error {
	if c.uuid != "" && c.uuid != id {
		return ErrUUIDAlreadySet
	}
	c.uuid = id
	return nil
}

// AddPermission appends a permission unless an identical one exists.
func (c *ConnectionSettings) AddPermission(kind, principal string) {
	p := Permission{Type: kind, Principal: principal}
	if slices.Contains(c.Permissions, p) {
		return
	}
	c.Permissions = append(c.Permissions, p)
}

// VPNSettings holds the plugin data items and secrets.
type VPNSettings struct {
	ServiceType string            `json:"service_type"`
	Data        map[string]string `json:"data"`
	Secrets     map[string]string `json:"-"`
}

// AddDataItem sets a plugin data item.
func (v *VPNSettings) AddDataItem(key, value string) {
	if v.Data == nil {
		v.Data = make(map[string]string)
	}
	v.Data[key] = value
}

// DataItem returns a plugin data item.
func (v *VPNSettings) DataItem(key string) (string, bool) {
	value, ok := v.Data[key]
	return value, ok
}

// AddSecret sets a secret.
func (v *VPNSettings) AddSecret(key, value string) {
	if v.Secrets == nil {
		v.Secrets = make(map[string]string)
	}
	v.Secrets[key] = value
}

// IPConfig holds the per-family IP settings the builder touches.
type IPConfig struct {
	Method        string   `json:"method"`
	DNSPriority   int      `json:"dns_priority"`
	IgnoreAutoDNS bool     `json:"ignore_auto_dns"`
	DNS           []string `json:"dns,omitempty"`
}

// Profile is a NetworkManager connection ready to be registered.
type Profile struct {
	Connection ConnectionSettings `json:"connection"`
	VPN        VPNSettings        `json:"vpn"`
	IPv4       IPConfig           `json:"ipv4"`
	IPv6       IPConfig           `json:"ipv6"`
}

// NewProfile returns an empty VPN profile for the given plugin service.
func NewProfile(serviceType string) *Profile {
	return &Profile{
		Connection: ConnectionSettings{Type: "vpn"},
		VPN: VPNSettings{
			ServiceType: serviceType,
			Data:        make(map[string]string),
			Secrets:     make(map[string]string),
		},
		IPv4: IPConfig{Method: "auto"},
		IPv6: IPConfig{Method: "auto"},
	}
}

// UUID returns the connection's unique identifier.
func (p *Profile) UUID() string {
	return p.Connection.UUID()
}
