// Package service wires the relay runtime together and owns its process
// lifecycle.
//
// Ownership boundary:
// - bootstrap: config validation, token provisioning, component wiring
// - serve loop: bridge connection, signal dispatch, HTTP, heartbeat
// - shutdown: bounded drain of detached relay deliveries and logouts
package service
