package lifecycle

import (
	"context"

	"github.com/danmuck/sessionrelay/internal/session"
)

// SignalKind names one messaging-client lifecycle signal.
type SignalKind string

const (
	SignalChallenge       SignalKind = "scan"
	SignalAuthenticated   SignalKind = "login"
	SignalDeauthenticated SignalKind = "logout"
	SignalFault           SignalKind = "error"
)

// Signal is one lifecycle notification from the messaging client.
type Signal struct {
	Kind     SignalKind
	Token    string
	Identity session.Identity
	Err      error

	// LoggedIn is the client's session flag as observed with this signal.
	// Nil means the dispatcher asks the Client when it handles the signal.
	LoggedIn *bool
}

// Source delivers signals in arrival order. The channel closes when the
// source stops for good.
type Source interface {
	Signals() <-chan Signal
}

// Client is the messaging client surface the dispatcher consults.
type Client interface {
	IsLoggedIn() bool
	Logout(ctx context.Context) error
}

// Notifier accepts events for fire-and-forget delivery. Notify must not block.
type Notifier interface {
	Notify(evt session.Event)
}
