// Package lifecycle drives session state from messaging-client signals.
//
// Ownership boundary:
// - signal intake (challenge, authenticated, deauthenticated, fault)
// - session state transitions
// - loss detection and per-episode fault suppression
// - handing lifecycle events to the relay
//
// Lifecycle does not deliver events itself and never blocks on the
// receiving service or on the client's logout.
package lifecycle
