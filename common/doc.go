// Package common provides shared constants, sentinel errors, logging and
// filesystem helpers used across nm-openvpn.
//
// The package holds the cross-cutting concerns only:
//
//   - Constants: application identity, NetworkManager names, timeouts
//   - Errors: sentinel errors checked with errors.Is
//   - Logger: levelled logging with optional rotating file output
//   - Utils: configuration and data directory helpers
//
// # Usage
//
//	common.LogInfo("Registering %s", profileName)
//
//	if errors.Is(err, common.ErrImportFailed) {
//	    // the raw configuration could not be imported
//	}
package common
