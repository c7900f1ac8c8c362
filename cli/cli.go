// Package cli provides the command-line interface for nm-openvpn.
// It manages the server catalog and registers OpenVPN connections with
// NetworkManager from the terminal.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yllada/nm-openvpn/common"
	"github.com/yllada/nm-openvpn/config"
	"github.com/yllada/nm-openvpn/keyring"
	"github.com/yllada/nm-openvpn/networkmanager"
	"github.com/yllada/nm-openvpn/servers"
	"github.com/yllada/nm-openvpn/vpn"
)

// historyLimit bounds the registrations shown by History.
const historyLimit = 10

// daemon is the NetworkManager connection used by the commands.
type daemon interface {
	vpn.Registrar
	vpn.Prober
	Version(ctx context.Context) (string, error)
	PluginPath() (string, bool)
	Close() error
}

// credentialStore is where the OpenVPN username and password live.
type credentialStore interface {
	vpn.Credentials
	Save(username, password string) error
	Delete() error
	Exists() bool
	UsesFile() bool
}

// CLI represents the command-line interface.
type CLI struct {
	cfg     *config.Config
	catalog *servers.Catalog
	store   credentialStore
	certDir string
	env     vpn.Environment
	out     io.Writer

	connect      func() (daemon, error)
	readPassword func() (string, error)
	pick         func([]vpn.Server) (vpn.Server, bool, error)

	nm      daemon
	manager *vpn.Manager
}

// New creates a CLI for cfg. The NetworkManager connection is opened on
// first use.
func New(cfg *config.Config) (*CLI, error) {
	catalogPath, err := cfg.ResolveCatalogPath()
	if err != nil {
		return nil, err
	}
	certDir, err := cfg.ResolveCertDir()
	if err != nil {
		return nil, err
	}
	catalog, err := servers.Open(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open server catalog: %w", err)
	}

	store := keyring.New(keyring.Options{Prompt: TerminalPrompt(os.Stdin, os.Stderr)})

	return &CLI{
		cfg:     cfg,
		catalog: catalog,
		store:   store,
		certDir: certDir,
		env:     vpn.SystemEnvironment(),
		out:     os.Stdout,
		connect: func() (daemon, error) {
			client, err := networkmanager.Connect(common.GetLogger())
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		readPassword: func() (string, error) {
			return readPassword(os.Stdin, os.Stderr, "Password: ")
		},
		pick: runPicker,
	}, nil
}

// Close releases the catalog and the bus connection.
func (c *CLI) Close() error {
	var errs []error
	if c.nm != nil {
		errs = append(errs, c.nm.Close())
	}
	errs = append(errs, c.catalog.Close())
	return errors.Join(errs...)
}

// vpnManager connects to NetworkManager and wires the protocol variants.
func (c *CLI) vpnManager() (*vpn.Manager, error) {
	if c.manager != nil {
		return c.manager, nil
	}

	nm, err := c.connect()
	if err != nil {
		return nil, err
	}
	c.nm = nm

	backend := &vpn.Backend{
		Importer:   vpn.NewOVPNImporter(c.certDir),
		Registrar:  nm,
		Prober:     nm,
		Env:        c.env,
		Logger:     common.GetLogger(),
		DeviceName: c.cfg.DeviceName,
	}
	c.manager = vpn.NewManager(vpn.NewRegistry(backend.Protocols()...), common.GetLogger())
	return c.manager, nil
}

// ListServers prints the server catalog.
func (c *CLI) ListServers(ctx context.Context) error {
	list, err := c.catalog.List(ctx)
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Fprintln(c.out, "No servers in the catalog.")
		fmt.Fprintln(c.out, "Add one with --add-server or --import-servers FILE")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{
			s.Name, s.Label, s.Domain, s.EntryIP,
			formatPorts(s.TCPPorts), formatPorts(s.UDPPorts),
			strconv.Itoa(s.Load) + "%",
		})
	}
	fmt.Fprintln(c.out, renderTable([]string{"NAME", "LABEL", "DOMAIN", "ENTRY IP", "TCP", "UDP", "LOAD"}, rows))
	return nil
}

// AddServer adds a server given as "NAME,DOMAIN,ENTRY_IP[,LABEL]".
func (c *CLI) AddServer(ctx context.Context, spec string) error {
	server, err := parseServerSpec(spec)
	if err != nil {
		return err
	}
	if err := c.catalog.Add(ctx, server); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s Added %s\n", okStyle.Render("✓"), server.DisplayName())
	return nil
}

func parseServerSpec(spec string) (vpn.Server, error) {
	parts := strings.Split(spec, ",")
	if len(parts) < 3 || len(parts) > 4 {
		return vpn.Server{}, fmt.Errorf("%w: expected NAME,DOMAIN,ENTRY_IP[,LABEL], got %q", common.ErrInvalidServer, spec)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	server := vpn.Server{Name: parts[0], Domain: parts[1], EntryIP: parts[2]}
	if len(parts) == 4 {
		server.Label = parts[3]
	}
	return server, server.Validate()
}

// RemoveServer deletes the named server from the catalog.
func (c *CLI) RemoveServer(ctx context.Context, name string) error {
	if err := c.catalog.Remove(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s Removed %s\n", okStyle.Render("✓"), name)
	return nil
}

// ImportServers loads servers from a YAML file.
func (c *CLI) ImportServers(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := c.catalog.ImportYAML(ctx, f)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Fprintf(c.out, "%s Imported %d servers\n", okStyle.Render("✓"), n)
	return nil
}

// Setup registers a connection for the named server and waits for
// NetworkManager to store it.
func (c *CLI) Setup(ctx context.Context, name, protocol string) error {
	server, err := c.catalog.Get(ctx, name)
	if err != nil {
		return err
	}
	return c.setup(ctx, server, protocol)
}

// Pick lets the user choose a server interactively, then sets it up.
func (c *CLI) Pick(ctx context.Context, protocol string) error {
	list, err := c.catalog.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return fmt.Errorf("%w: the catalog is empty", common.ErrServerNotFound)
	}

	server, ok, err := c.pick(list)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(c.out, "Cancelled.")
		return nil
	}
	return c.setup(ctx, server, protocol)
}

func runPicker(list []vpn.Server) (vpn.Server, bool, error) {
	final, err := tea.NewProgram(newPicker(list)).Run()
	if err != nil {
		return vpn.Server{}, false, err
	}
	server, ok := final.(pickerModel).selected()
	return server, ok, nil
}

func (c *CLI) setup(ctx context.Context, server vpn.Server, protocol string) error {
	manager, err := c.vpnManager()
	if err != nil {
		return err
	}
	if protocol == "" {
		protocol = c.cfg.Protocol
	}

	target := vpn.Target{
		Server:         server,
		Credentials:    c.store,
		Settings:       c.cfg.Settings(),
		UseCertificate: c.cfg.UseCertificate,
	}

	fmt.Fprintf(c.out, "Setting up %s...\n", server.DisplayName())
	future, err := manager.Setup(ctx, protocol, target)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, common.RegistrationTimeout)
	defer cancel()
	path, waitErr := future.Wait(waitCtx)

	record := vpn.Registration{
		Server:   server.Name,
		UUID:     future.UUID(),
		Path:     path,
		Finished: time.Now(),
	}
	if reg, ok := manager.RegistrationByUUID(record.UUID); ok {
		record.Protocol = reg.Protocol
	}
	if waitErr != nil {
		record.LastError = waitErr.Error()
	}
	if err := c.catalog.RecordRegistration(ctx, record); err != nil {
		common.LogWarn("Could not record registration for %s: %v", server.Name, err)
	}

	if waitErr != nil {
		return fmt.Errorf("registration failed: %w", waitErr)
	}
	fmt.Fprintf(c.out, "%s Registered %s over %s\n", okStyle.Render("✓"), server.DisplayName(), record.Protocol)
	fmt.Fprintf(c.out, "  %s %s\n", dimStyle.Render("uuid:"), record.UUID)
	fmt.Fprintf(c.out, "  %s %s\n", dimStyle.Render("path:"), path)
	return nil
}

// History prints recent registrations for the named server.
func (c *CLI) History(ctx context.Context, name string) error {
	history, err := c.catalog.History(ctx, name, historyLimit)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintf(c.out, "No registrations for %s.\n", name)
		return nil
	}

	rows := make([][]string, 0, len(history))
	for _, reg := range history {
		status := okStyle.Render(reg.Status.String())
		detail := reg.Path
		if reg.Status == vpn.StatusFailed {
			status = errStyle.Render(reg.Status.String())
			detail = reg.LastError
		}
		rows = append(rows, []string{
			reg.Finished.Format(time.DateTime), reg.Protocol, status, reg.UUID, detail,
		})
	}
	fmt.Fprintln(c.out, renderTable([]string{"TIME", "PROTOCOL", "STATUS", "UUID", "DETAIL"}, rows))
	return nil
}

// StoreCredentials saves the OpenVPN password for username.
func (c *CLI) StoreCredentials(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username cannot be empty")
	}

	password, err := c.readPassword()
	if err != nil {
		return err
	}
	if err := c.store.Save(username, password); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s Credentials stored for %s\n", okStyle.Render("✓"), username)
	return nil
}

// ForgetCredentials removes the stored OpenVPN credentials.
func (c *CLI) ForgetCredentials() error {
	if !c.store.Exists() {
		fmt.Fprintln(c.out, "No credentials stored.")
		return nil
	}
	if err := c.store.Delete(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	fmt.Fprintf(c.out, "%s Credentials removed\n", okStyle.Render("✓"))
	return nil
}

// Check reports whether NetworkManager can serve OpenVPN connections.
func (c *CLI) Check(ctx context.Context) error {
	c.checkCredentials()

	manager, err := c.vpnManager()
	if err != nil {
		return err
	}

	version, err := c.nm.Version(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "%s NetworkManager: %v\n", errStyle.Render("✗"), err)
		return err
	}
	fmt.Fprintf(c.out, "%s NetworkManager %s\n", okStyle.Render("✓"), version)

	if path, ok := c.nm.PluginPath(); ok {
		fmt.Fprintf(c.out, "%s OpenVPN plugin %s\n", okStyle.Render("✓"), dimStyle.Render(path))
	} else {
		fmt.Fprintf(c.out, "%s OpenVPN plugin not installed\n", warnStyle.Render("!"))
	}

	usable := 0
	for _, p := range manager.Registry().Protocols() {
		if p.IsUsable(ctx) {
			usable++
			fmt.Fprintf(c.out, "%s %s (priority %d)\n", okStyle.Render("✓"), p.Name(), p.Priority())
		} else {
			fmt.Fprintf(c.out, "%s %s unavailable\n", warnStyle.Render("!"), p.Name())
		}
	}
	if usable == 0 {
		return common.ErrNoUsableProtocol
	}
	return nil
}

func (c *CLI) checkCredentials() {
	backend := "system keyring"
	if c.store.UsesFile() {
		backend = "encrypted file"
	}

	switch {
	case c.store.Exists():
		fmt.Fprintf(c.out, "%s Credentials stored %s\n", okStyle.Render("✓"), dimStyle.Render("("+backend+")"))
	case c.cfg.UseCertificate:
		fmt.Fprintf(c.out, "%s No credentials stored, certificate authentication\n", okStyle.Render("✓"))
	default:
		fmt.Fprintf(c.out, "%s No credentials stored, you will be prompted %s\n", warnStyle.Render("!"), dimStyle.Render("("+backend+")"))
	}
}

func formatPorts(ports []int) string {
	if len(ports) == 0 {
		return dimStyle.Render("default")
	}
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, " ")
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`nm-openvpn - register OpenVPN connections with NetworkManager

Usage:
  nm-openvpn [OPTIONS]

Options:
  --version                 Show version and exit
  --verbose                 Enable verbose logging
  --list-servers            List the server catalog
  --add-server SPEC         Add a server: NAME,DOMAIN,ENTRY_IP[,LABEL]
  --remove-server NAME      Remove a server from the catalog
  --import-servers FILE     Import servers from a YAML file
  --setup NAME              Register a connection for a server
  --pick                    Choose a server interactively and register it
  --protocol PROTO          openvpn-tcp or openvpn-udp (default: automatic)
  --history NAME            Show recent registrations for a server
  --store-credentials USER  Save the OpenVPN password for USER
  --forget-credentials      Remove the stored OpenVPN credentials
  --check                   Check NetworkManager and the OpenVPN plugin
  --help                    Show this help message

Examples:
  nm-openvpn --import-servers servers.yaml
  nm-openvpn --store-credentials alice
  nm-openvpn --setup "NL#7" --protocol openvpn-udp
  nm-openvpn --pick

Notes:
  - Settings are read from ~/.config/nm-openvpn/config.yaml
  - Without stored credentials you are prompted on the terminal`)
}
