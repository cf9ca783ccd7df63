// Package main runs the in-memory websocket relay used by wabridge during
// development and tests. It plays the server half of the pairing and
// restore handshakes, holds one encrypted session per paired device and
// routes messages between devices.
//
// HTTP API
//
//	GET /ws
//	    Websocket endpoint the client connects to.
//
//	POST /scan {"payload": "...", "jid": "..."}
//	    Complete a pairing as the phone would. jid is optional. Replies
//	    {"jid": "..."}; 404 for an unknown or expired ref, 409 when the jid
//	    is taken.
//
//	GET /devices
//	    List paired devices with their online state and queue depth.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Messages to an offline device are queued and redelivered, in order,
//     when it reconnects, until it acknowledges them.
//   - The default listen address is 127.0.0.1:8080.
//
// The scan and devices subcommands talk to a running relay through the
// same API.
package main
