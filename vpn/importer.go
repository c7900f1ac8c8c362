package vpn

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yllada/nm-openvpn/common"
)

// Importer converts a RawConfig into a Profile.
type Importer interface {
	Import(ctx context.Context, raw *RawConfig) (*Profile, error)
}

// OVPNImporter imports rendered .ovpn documents into profiles for the
// NetworkManager OpenVPN plugin, the way "nmcli connection import" does.
type OVPNImporter struct {
	// CertDir receives inline certificate blocks; required only when the
	// document contains any.
	CertDir string
}

// NewOVPNImporter returns an importer writing inline certificates to certDir.
func NewOVPNImporter(certDir string) *OVPNImporter {
	return &OVPNImporter{CertDir: certDir}
}

// Import renders raw and maps its directives onto plugin data items.
// The resulting profile carries a fresh connection UUID.
func (im *OVPNImporter) Import(ctx context.Context, raw *RawConfig) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: nil configuration", common.ErrImportFailed)
	}

	document, err := raw.Render()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrImportFailed, err)
	}

	parsed, err := parseOVPN(document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrImportFailed, err)
	}

	profile := NewProfile(common.OpenVPNServiceType)
	if err := profile.Connection.SetUUID(uuid.NewString()); err != nil {
		return nil, err
	}
	profile.Connection.ID = raw.Protocol
	profile.Connection.InterfaceName = raw.DeviceName

	if err := im.applyDirectives(profile, parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrImportFailed, err)
	}
	return profile, nil
}

// ovpnDocument is a parsed .ovpn file.
type ovpnDocument struct {
	directives   map[string][]string
	inlineBlocks map[string]string
}

func (d *ovpnDocument) has(key string) bool {
	_, ok := d.directives[key]
	return ok
}

func (d *ovpnDocument) first(key string) string {
	values := d.directives[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func parseOVPN(raw string) (*ovpnDocument, error) {
	doc := &ovpnDocument{
		directives:   make(map[string][]string),
		inlineBlocks: make(map[string]string),
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 1024), 1024*1024)

	lineNum := 0
	activeBlock := ""
	var blockLines []string

	for scanner.Scan() {
		lineNum++
		rawLine := scanner.Text()
		line := strings.TrimSpace(rawLine)

		if activeBlock != "" {
			if strings.EqualFold(line, "</"+activeBlock+">") {
				doc.inlineBlocks[activeBlock] = strings.Join(blockLines, "\n") + "\n"
				activeBlock = ""
				blockLines = blockLines[:0]
				continue
			}
			blockLines = append(blockLines, rawLine)
			continue
		}

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "</") {
			return nil, fmt.Errorf("line %d: unexpected closing block", lineNum)
		}
		if strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">") {
			name := strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if name == "" || strings.Contains(name, " ") {
				return nil, fmt.Errorf("line %d: invalid inline block name", lineNum)
			}
			activeBlock = name
			continue
		}

		fields := strings.Fields(line)
		key := strings.ToLower(fields[0])
		value := strings.TrimSpace(line[len(fields[0]):])
		doc.directives[key] = append(doc.directives[key], value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if activeBlock != "" {
		return nil, fmt.Errorf("unclosed inline block <%s>", activeBlock)
	}

	if !doc.has("client") {
		return nil, fmt.Errorf("'client' directive is required")
	}
	if len(doc.directives["remote"]) == 0 {
		return nil, fmt.Errorf("'remote' directive is required")
	}
	return doc, nil
}

// simpleDirectives map an OpenVPN directive straight onto a plugin key.
var simpleDirectives = map[string]string{
	"dev":              "dev",
	"dev-type":         "dev-type",
	"cipher":           "cipher",
	"data-ciphers":     "data-ciphers",
	"auth":             "auth",
	"remote-cert-tls":  "remote-cert-tls",
	"reneg-sec":        "reneg-seconds",
	"tun-mtu":          "tunnel-mtu",
	"mssfix":           "mssfix",
	"verify-x509-name": KeyVerifyX509Name,
}

// fileDirectives reference a file path or an inline block.
var fileDirectives = []string{"ca", "cert", "key", "tls-crypt", "tls-auth"}

func (im *OVPNImporter) applyDirectives(profile *Profile, doc *ovpnDocument) error {
	settings := &profile.VPN

	proto := strings.ToLower(doc.first("proto"))
	tcp := strings.HasPrefix(proto, "tcp")
	if tcp {
		settings.AddDataItem("proto-tcp", "yes")
	}

	remotes := make([]string, 0, len(doc.directives["remote"]))
	for _, entry := range doc.directives["remote"] {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			return fmt.Errorf("empty 'remote' directive")
		}
		remote := fields[0]
		if len(fields) > 1 {
			remote += ":" + fields[1]
		}
		if len(fields) > 2 {
			remote += ":" + fields[2]
		} else if proto != "" {
			remote += ":" + strings.TrimSuffix(proto, "-client")
		}
		remotes = append(remotes, remote)
	}
	settings.AddDataItem("remote", strings.Join(remotes, ", "))

	if doc.has("remote-random") {
		settings.AddDataItem("remote-random", "yes")
	}

	for directive, key := range simpleDirectives {
		if value := doc.first(directive); value != "" {
			settings.AddDataItem(key, value)
		}
	}

	for _, directive := range fileDirectives {
		path, err := im.resolveFile(profile.UUID(), directive, doc)
		if err != nil {
			return err
		}
		if path != "" {
			settings.AddDataItem(directive, path)
		}
	}

	_, hasCert := settings.DataItem("cert")
	_, hasKey := settings.DataItem("key")
	certAuth := hasCert && hasKey
	switch {
	case doc.has("auth-user-pass") && certAuth:
		settings.AddDataItem("connection-type", "password-tls")
	case doc.has("auth-user-pass"):
		settings.AddDataItem("connection-type", "password")
	case certAuth:
		settings.AddDataItem("connection-type", "tls")
	default:
		return fmt.Errorf("no authentication method configured")
	}
	return nil
}

// resolveFile returns the path for a file directive, writing inline blocks
// to CertDir.
func (im *OVPNImporter) resolveFile(id, directive string, doc *ovpnDocument) (string, error) {
	if value := doc.first(directive); value != "" {
		// tls-auth carries an optional key direction after the path.
		return strings.Fields(value)[0], nil
	}
	block, ok := doc.inlineBlocks[directive]
	if !ok {
		return "", nil
	}
	if im.CertDir == "" {
		return "", fmt.Errorf("inline <%s> block requires a certificate directory", directive)
	}
	if err := common.EnsureDir(im.CertDir); err != nil {
		return "", err
	}
	path := filepath.Join(im.CertDir, fmt.Sprintf("%s-%s.pem", id, directive))
	if err := os.WriteFile(path, []byte(block), 0600); err != nil {
		return "", fmt.Errorf("failed to write inline %s: %w", directive, err)
	}
	return path, nil
}
