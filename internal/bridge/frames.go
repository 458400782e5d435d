package bridge

import (
	"errors"
	"fmt"

	"github.com/danmuck/sessionrelay/internal/lifecycle"
	"github.com/danmuck/sessionrelay/internal/session"
)

var ErrUnknownFrame = errors.New("bridge: unknown frame type")

const (
	frameScan   = "scan"
	frameLogin  = "login"
	frameLogout = "logout"
	frameError  = "error"
	frameStatus = "status"

	actionLogout = "logout"
)

// inboundFrame is one JSON message pushed by the messaging client.
type inboundFrame struct {
	Type     string            `json:"type"`
	QRCode   string            `json:"qrcode,omitempty"`
	User     *session.Identity `json:"user,omitempty"`
	Error    string            `json:"error,omitempty"`
	LoggedIn *bool             `json:"loggedIn,omitempty"`
}

type commandFrame struct {
	Action string `json:"action"`
}

// decodeFrame maps a frame to a signal. Status frames carry no signal.
func decodeFrame(f inboundFrame) (lifecycle.Signal, bool, error) {
	identity := func() session.Identity {
		if f.User == nil {
			return session.Identity{}
		}
		return *f.User
	}
	switch f.Type {
	case frameScan:
		return lifecycle.Signal{Kind: lifecycle.SignalChallenge, Token: f.QRCode}, true, nil
	case frameLogin:
		return lifecycle.Signal{Kind: lifecycle.SignalAuthenticated, Identity: identity()}, true, nil
	case frameLogout:
		return lifecycle.Signal{Kind: lifecycle.SignalDeauthenticated, Identity: identity()}, true, nil
	case frameError:
		return lifecycle.Signal{Kind: lifecycle.SignalFault, Err: errors.New(f.Error)}, true, nil
	case frameStatus:
		return lifecycle.Signal{}, false, nil
	default:
		return lifecycle.Signal{}, false, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
}

// loggedInAfter returns the live flag implied by f.
func loggedInAfter(f inboundFrame, current bool) bool {
	if f.LoggedIn != nil {
		return *f.LoggedIn
	}
	switch f.Type {
	case frameLogin:
		return true
	case frameLogout, frameScan:
		return false
	}
	return current
}
