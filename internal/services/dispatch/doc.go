// Package dispatch sits between the authenticated relay connection and the
// application.
//
// Inbound message nodes are deduplicated per peer by message id, put back
// into sender order using the per-destination seq the sender assigned, and
// acknowledged to the relay. Gaps are waited on for a bounded time or
// number of buffered messages before being declared missing.
//
// Outbound messages are queued with a global seq and a per-destination
// seq, sent in order whenever the connection is authenticated and resent
// after a reconnect or when no ack arrives in time. An entry that reaches
// the retry ceiling fails permanently.
package dispatch
