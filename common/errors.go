// Package common provides shared constants, types, and utilities
// used across nm-openvpn.
package common

import "errors"

// Sentinel errors for profile assembly and registration.
// These can be checked with errors.Is() for proper error handling.
var (
	// Setup errors.
	ErrImportFailed       = errors.New("failed to import vpn configuration")
	ErrRegistrationFailed = errors.New("networkmanager rejected the connection")
	ErrNotUsable          = errors.New("protocol is not usable on this system")
	ErrUnknownProtocol    = errors.New("unknown protocol")
	ErrNoUsableProtocol   = errors.New("no usable protocol available")

	// Daemon errors.
	ErrDaemonUnavailable = errors.New("networkmanager is not reachable")
	ErrPluginMissing     = errors.New("networkmanager openvpn plugin is not installed")

	// Server catalog errors.
	ErrServerNotFound = errors.New("server not found")
	ErrInvalidServer  = errors.New("invalid server data")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
