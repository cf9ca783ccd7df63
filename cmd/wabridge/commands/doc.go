// Package commands defines the wabridge CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - init         Create the local device identity
//   - fingerprint  Print the identity fingerprint
//   - run          Connect, pair when needed and print incoming messages
//   - send         Send one message and wait for the relay ack
//   - status       Show the persisted session
//   - clear        Remove all persisted session material
//   - config init  Write a config file holding the defaults
//
// # Implementation
//
// The root command loads the configuration (file, WABRIDGE_* environment,
// then flags) before any subcommand runs. Subcommands that touch the
// session open the app graph themselves so the store lock is only held
// while they run.
package commands
