package vpn

import (
	"context"
	"fmt"
	"strings"

	"github.com/yllada/nm-openvpn/common"
)

// Server describes a VPN endpoint.
type Server struct {
	// Name is the unique, human-readable server name (e.g. "CH#12").
	Name string `json:"name" yaml:"name"`
	// Domain is the name presented in the server certificate.
	Domain string `json:"domain" yaml:"domain"`
	// EntryIP is the address clients connect to.
	EntryIP string `json:"entry_ip" yaml:"entry_ip"`
	// Label is an optional free-form description.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	// TCPPorts and UDPPorts override the default OpenVPN ports.
	TCPPorts []int `json:"tcp_ports,omitempty" yaml:"tcp_ports,omitempty"`
	UDPPorts []int `json:"udp_ports,omitempty" yaml:"udp_ports,omitempty"`
	// Load is the server load in percent, as reported by the provider.
	Load int `json:"load,omitempty" yaml:"load,omitempty"`
	// Tier restricts the server to a subscription tier.
	Tier int `json:"tier,omitempty" yaml:"tier,omitempty"`
}

// DisplayName returns the name used for the NetworkManager connection id.
func (s Server) DisplayName() string {
	if s.Label != "" {
		return fmt.Sprintf("%s (%s)", s.Name, s.Label)
	}
	return s.Name
}

// Validate checks the fields required to build a profile.
func (s Server) Validate() error {
	switch {
	case strings.TrimSpace(s.Name) == "":
		return fmt.Errorf("%w: name is required", common.ErrInvalidServer)
	case strings.TrimSpace(s.Domain) == "":
		return fmt.Errorf("%w: domain is required for %s", common.ErrInvalidServer, s.Name)
	case strings.TrimSpace(s.EntryIP) == "":
		return fmt.Errorf("%w: entry ip is required for %s", common.ErrInvalidServer, s.Name)
	}
	for _, p := range append(append([]int{}, s.TCPPorts...), s.UDPPorts...) {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%w: port %d out of range for %s", common.ErrInvalidServer, p, s.Name)
		}
	}
	return nil
}

// Credentials supplies the username and password for password
// authentication. Implementations may hit a secret store or prompt the user;
// forceFetch asks them to bypass any cached copy.
type Credentials interface {
	UserPass(ctx context.Context, forceFetch bool) (username, password string, err error)
}

// TLSMaterial holds the certificate files referenced by the generated
// OpenVPN configuration. Empty fields are omitted.
type TLSMaterial struct {
	CAFile string
	// CAPEM is an inline CA bundle, used when CAFile is empty.
	CAPEM        string
	TLSCryptFile string
	CertFile     string
	KeyFile      string
}

// Settings are the user settings consulted while building a profile.
type Settings interface {
	// Protocol returns the preferred protocol identifier, or "" for automatic.
	Protocol() string
	// TLSMaterial returns the certificate files to reference.
	TLSMaterial() TLSMaterial
}

// DNSSettings is an optional capability of Settings. Settings that do not
// implement it, or return an empty list, keep NetworkManager's DNS handling.
type DNSSettings interface {
	DNSCustomIPs() []string
}

// Target groups what a single setup attempt connects to.
type Target struct {
	Server         Server
	Credentials    Credentials
	Settings       Settings
	UseCertificate bool
}
