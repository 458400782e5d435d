// Package bridge connects to the messaging client's websocket and turns its
// frames into lifecycle signals.
//
// Ownership boundary:
// - websocket dial/reconnect with backoff
// - inbound frame decoding
// - the live logged-in flag
// - outbound logout commands
package bridge
