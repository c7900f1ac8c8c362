package vpn

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yllada/nm-openvpn/common"
)

// Protocol identifiers.
const (
	ProtocolTCP = "openvpn-tcp"
	ProtocolUDP = "openvpn-udp"
)

// Default OpenVPN ports when a server does not list its own.
var (
	defaultTCPPorts = []int{443, 7770, 8443}
	defaultUDPPorts = []int{80, 51820, 4569, 1194, 5060}
)

// RawConfig is the protocol-specific OpenVPN configuration built for one
// server, before it is imported into a Profile.
type RawConfig struct {
	Protocol       string
	Server         Server
	Credentials    Credentials
	Settings       Settings
	UseCertificate bool
	// DeviceName is the virtual tunnel device.
	DeviceName string
}

// NewRawConfig returns the configuration for protocol, which must be one of
// ProtocolTCP or ProtocolUDP.
func NewRawConfig(protocol string, target Target, deviceName string) (*RawConfig, error) {
	if protocol != ProtocolTCP && protocol != ProtocolUDP {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownProtocol, protocol)
	}
	if err := target.Server.Validate(); err != nil {
		return nil, err
	}
	if deviceName == "" {
		deviceName = common.DefaultDeviceName
	}
	return &RawConfig{
		Protocol:       protocol,
		Server:         target.Server,
		Credentials:    target.Credentials,
		Settings:       target.Settings,
		UseCertificate: target.UseCertificate,
		DeviceName:     deviceName,
	}, nil
}

// TransportProto returns the OpenVPN "proto" value.
func (c *RawConfig) TransportProto() string {
	if c.Protocol == ProtocolTCP {
		return "tcp"
	}
	return "udp"
}

// Ports returns the ports to list as remotes.
func (c *RawConfig) Ports() []int {
	if c.Protocol == ProtocolTCP {
		if len(c.Server.TCPPorts) > 0 {
			return c.Server.TCPPorts
		}
		return defaultTCPPorts
	}
	if len(c.Server.UDPPorts) > 0 {
		return c.Server.UDPPorts
	}
	return defaultUDPPorts
}

// Render produces the .ovpn document for this configuration.
func (c *RawConfig) Render() (string, error) {
	var material TLSMaterial
	if c.Settings != nil {
		material = c.Settings.TLSMaterial()
	}
	if c.UseCertificate && (material.CertFile == "" || material.KeyFile == "") {
		return "", fmt.Errorf("%w: certificate authentication requires cert and key files", common.ErrInvalidConfig)
	}

	var b strings.Builder
	line := func(parts ...string) {
		b.WriteString(strings.Join(parts, " "))
		b.WriteByte('\n')
	}

	line("#", c.Server.Name)
	line("client")
	line("dev", c.DeviceName)
	line("dev-type", "tun")
	line("proto", c.TransportProto())
	for _, port := range c.Ports() {
		line("remote", c.Server.EntryIP, strconv.Itoa(port))
	}
	line("remote-random")
	line("resolv-retry", "infinite")
	line("nobind")
	line("data-ciphers", "AES-256-GCM:AES-128-GCM:CHACHA20-POLY1305")
	line("auth", "SHA512")
	line("remote-cert-tls", "server")
	line("reneg-sec", "0")
	line("tun-mtu", "1500")
	if c.Protocol == ProtocolUDP {
		line("mssfix", "0")
	}
	line("persist-key")
	line("persist-tun")
	if !c.UseCertificate {
		line("auth-user-pass")
	}
	switch {
	case material.CAFile != "":
		line("ca", material.CAFile)
	case material.CAPEM != "":
		line("<ca>")
		b.WriteString(strings.TrimRight(material.CAPEM, "\n"))
		b.WriteByte('\n')
		line("</ca>")
	}
	if material.TLSCryptFile != "" {
		line("tls-crypt", material.TLSCryptFile)
	}
	if c.UseCertificate {
		line("cert", material.CertFile)
		line("key", material.KeyFile)
	}
	return b.String(), nil
}
