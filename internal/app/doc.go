// Package app loads configuration and wires the engine for the CLI.
//
// LoadConfig layers defaults, a wabridge.yaml file, WABRIDGE_ environment
// variables and command flags. NewWire turns a Config into a running
// dependency graph: log backend, session store, identity service, metrics
// and the client facade.
package app
