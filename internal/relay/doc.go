// Package relay is an in-memory development relay speaking the same
// dialogue as the real one, plus a small HTTP client for its control
// endpoints.
//
// HTTP API
//
//	GET /ws
//	    Websocket endpoint for devices (binary frames only).
//
//	POST /scan {"payload": "...", "jid": "..."}
//	    Stand in for a phone scanning a pairing payload. The relay side of
//	    key agreement runs here and the waiting device receives its conn
//	    node. jid is optional; one is generated when empty. Replies with
//	    {"jid": "..."}.
//
//	GET /devices
//	    List paired devices and whether they are online.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Messages are routed between paired devices by jid and kept in the
//     recipient's queue until the recipient acks them. Queued messages are
//     redelivered whenever the recipient reconnects.
//   - A message id is accepted once per sender; repeats are acked again
//     and not routed.
//   - The relay answers pings and never sees application plaintext outside
//     the sealed channel of each device.
package relay
