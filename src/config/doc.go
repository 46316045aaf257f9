// Package config defines the configuration for a sectiond node.
//
// Regardless of how a node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, a node relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key // the node's identity keys (cf. sectiond keygen).
//  peers.json // the addresses of nodes to contact when joining.
//  genesis_key // the hex encoded genesis key the node trusts.
//  sectiond.toml // (optional) configuration values read by the CLI.
package config
