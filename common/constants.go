// Package common provides shared constants, types, and utilities
// used across nm-openvpn.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "nm-openvpn"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "nm-openvpn"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CatalogFileName     = "servers.db"
	CredentialsFileName = ".credentials"
	LogFileName         = "nm-openvpn.log"
	CertDirName         = "certs"
)

// NetworkManager identifiers.
const (
	// OpenVPNServiceType is the VPN plugin service handled by NetworkManager.
	OpenVPNServiceType = "org.freedesktop.NetworkManager.openvpn"
	// OpenVPNPluginFile is the plugin descriptor installed by NetworkManager-openvpn.
	OpenVPNPluginFile = "nm-openvpn-service.name"
	// DefaultDeviceName is the virtual tunnel device used by generated profiles.
	DefaultDeviceName = "nmovpn0"
)

// Default timeouts.
const (
	// RegistrationTimeout bounds how long the CLI waits for NetworkManager
	// to acknowledge a new connection.
	RegistrationTimeout = 30 * time.Second
	// ProbeTimeout bounds the capability probe against the daemon.
	ProbeTimeout = 5 * time.Second
)
