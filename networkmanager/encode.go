package networkmanager

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/nm-openvpn/common"
	"github.com/yllada/nm-openvpn/vpn"
)

// ConnectionSettings is the a{sa{sv}} dictionary taken by AddConnection.
type ConnectionSettings map[string]map[string]dbus.Variant

// EncodeProfile converts a profile into NetworkManager's setting dictionary.
func EncodeProfile(p *vpn.Profile) (ConnectionSettings, error) {
	if p.UUID() == "" {
		return nil, fmt.Errorf("%w: profile has no uuid", common.ErrInvalidConfig)
	}

	connection := map[string]dbus.Variant{
		"id":          dbus.MakeVariant(p.Connection.ID),
		"uuid":        dbus.MakeVariant(p.UUID()),
		"type":        dbus.MakeVariant(p.Connection.Type),
		"autoconnect": dbus.MakeVariant(p.Connection.Autoconnect),
	}
	if p.Connection.InterfaceName != "" {
		connection["interface-name"] = dbus.MakeVariant(p.Connection.InterfaceName)
	}
	if len(p.Connection.Permissions) > 0 {
		perms := make([]string, 0, len(p.Connection.Permissions))
		for _, perm := range p.Connection.Permissions {
			// NetworkManager expects "type:principal:reserved".
			perms = append(perms, perm.Type+":"+perm.Principal+":")
		}
		connection["permissions"] = dbus.MakeVariant(perms)
	}

	vpnSetting := map[string]dbus.Variant{
		"service-type": dbus.MakeVariant(p.VPN.ServiceType),
		"data":         dbus.MakeVariant(nonNil(p.VPN.Data)),
	}
	if len(p.VPN.Secrets) > 0 {
		vpnSetting["secrets"] = dbus.MakeVariant(p.VPN.Secrets)
	}

	ipv4, err := encodeIPv4(p.IPv4)
	if err != nil {
		return nil, err
	}
	ipv6, err := encodeIPv6(p.IPv6)
	if err != nil {
		return nil, err
	}

	return ConnectionSettings{
		"connection": connection,
		"vpn":        vpnSetting,
		"ipv4":       ipv4,
		"ipv6":       ipv6,
	}, nil
}

func encodeIPCommon(cfg vpn.IPConfig) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"method":          dbus.MakeVariant(cfg.Method),
		"dns-priority":    dbus.MakeVariant(int32(cfg.DNSPriority)),
		"ignore-auto-dns": dbus.MakeVariant(cfg.IgnoreAutoDNS),
	}
}

// encodeIPv4 writes dns as "au": addresses in network byte order, read
// back by the daemon as host integers.
func encodeIPv4(cfg vpn.IPConfig) (map[string]dbus.Variant, error) {
	out := encodeIPCommon(cfg)
	if len(cfg.DNS) == 0 {
		return out, nil
	}

	servers := make([]uint32, 0, len(cfg.DNS))
	for _, s := range cfg.DNS {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("%w: %q is not an IPv4 address", common.ErrInvalidConfig, s)
		}
		b := addr.As4()
		servers = append(servers, binary.NativeEndian.Uint32(b[:]))
	}
	out["dns"] = dbus.MakeVariant(servers)
	return out, nil
}

func encodeIPv6(cfg vpn.IPConfig) (map[string]dbus.Variant, error) {
	out := encodeIPCommon(cfg)
	if len(cfg.DNS) == 0 {
		return out, nil
	}

	servers := make([][]byte, 0, len(cfg.DNS))
	for _, s := range cfg.DNS {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return nil, fmt.Errorf("%w: %q is not an IPv6 address", common.ErrInvalidConfig, s)
		}
		b := addr.As16()
		servers = append(servers, b[:])
	}
	out["dns"] = dbus.MakeVariant(servers)
	return out, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
