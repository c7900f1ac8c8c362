// Package main provides the entry point for nm-openvpn.
// nm-openvpn builds OpenVPN connection profiles for a catalog of VPN
// servers and registers them with NetworkManager over D-Bus.
//
// Features:
//   - Server catalog stored in SQLite, importable from YAML
//   - TCP and UDP OpenVPN variants with automatic selection
//   - Secure credential storage using the system keyring
//   - Per-user connections with leak-resistant DNS settings
//
// Usage:
//
//	nm-openvpn [options]
//
// Environment:
//
//	The application requires NetworkManager and its OpenVPN plugin.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yllada/nm-openvpn/cli"
	"github.com/yllada/nm-openvpn/common"
	"github.com/yllada/nm-openvpn/config"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")

	// Catalog flags
	listServers   = flag.Bool("list-servers", false, "List the server catalog")
	addServer     = flag.String("add-server", "", "Add a server: NAME,DOMAIN,ENTRY_IP[,LABEL]")
	removeServer  = flag.String("remove-server", "", "Remove a server from the catalog")
	importServers = flag.String("import-servers", "", "Import servers from a YAML file")
	showHistory   = flag.String("history", "", "Show recent registrations for a server")

	// Connection flags
	setupServer       = flag.String("setup", "", "Register a connection for a server")
	pickServer        = flag.Bool("pick", false, "Choose a server interactively")
	protocol          = flag.String("protocol", "", "openvpn-tcp or openvpn-udp (default: automatic)")
	storeCredentials  = flag.String("store-credentials", "", "Save the OpenVPN password for a user")
	forgetCredentials = flag.Bool("forget-credentials", false, "Remove the stored OpenVPN credentials")
	runCheck          = flag.Bool("check", false, "Check NetworkManager and the OpenVPN plugin")
)

func main() {
	flag.Parse()

	// Handle help flag
	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	// Handle version flag
	if *showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logLevel := common.ParseLevel(cfg.LogLevel)
	if *verbose {
		logLevel = common.LevelDebug
	}

	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals (SIGINT, SIGTERM)
	setupSignalHandler(cancel)

	if code := run(ctx, cfg); code != 0 {
		common.CloseLogger()
		os.Exit(code)
	}
}

// run dispatches the selected command and returns the exit code.
func run(ctx context.Context, cfg *config.Config) int {
	app, err := cli.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer app.Close()

	var cliErr error

	switch {
	case *listServers:
		cliErr = app.ListServers(ctx)
	case *addServer != "":
		cliErr = app.AddServer(ctx, *addServer)
	case *removeServer != "":
		cliErr = app.RemoveServer(ctx, *removeServer)
	case *importServers != "":
		cliErr = app.ImportServers(ctx, *importServers)
	case *showHistory != "":
		cliErr = app.History(ctx, *showHistory)
	case *storeCredentials != "":
		cliErr = app.StoreCredentials(*storeCredentials)
	case *forgetCredentials:
		cliErr = app.ForgetCredentials()
	case *setupServer != "":
		cliErr = app.Setup(ctx, *setupServer, *protocol)
	case *pickServer:
		cliErr = app.Pick(ctx, *protocol)
	case *runCheck:
		cliErr = app.Check(ctx)
	default:
		cli.PrintHelp()
		return 2
	}

	if cliErr != nil {
		common.LogError("Command failed: %v", cliErr)
		fmt.Fprintf(os.Stderr, "Error: %v\n", cliErr)
		return 1
	}
	return 0
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}
