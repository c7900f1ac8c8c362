// Package vpn assembles NetworkManager connection profiles for the OpenVPN
// protocol family.
//
// The package is organized around four pieces:
//
//   - Profile: the in-memory NetworkManager connection (connection, vpn,
//     ipv4 and ipv6 setting groups)
//   - Builder: turns a RawConfig into a Profile that is owned by the current
//     user, verifies the peer by name, prefers the tunnel's DNS and carries
//     credentials only for password authentication
//   - Protocol: the TCP and UDP variants, advertising a priority and a
//     usability probe to the Registry, and running Setup
//   - Manager: runs setups, deduplicates concurrent ones and records
//     registrations
//
// # Setup Flow
//
//  1. The caller selects a Protocol (Registry.Select)
//  2. Protocol.Setup renders a RawConfig for the server and settings
//  3. Builder.ConfigureConnection imports it and mutates the Profile
//  4. The Registrar submits the Profile and returns a Future
//
// # Collaborators
//
// The importer, credential source, registrar and prober are interfaces so the
// assembly can be exercised without a running NetworkManager daemon. The
// networkmanager package provides the D-Bus implementations.
package vpn
