package session

import (
	"fmt"
	"sync"
)

// Phase is the derived position of the session state machine.
type Phase string

const (
	PhaseAwaitingChallenge Phase = "awaiting_challenge"
	PhaseChallenged        Phase = "challenged"
	PhaseAuthenticated     Phase = "authenticated"
	PhaseLossSuppressed    Phase = "loss_suppressed"
)

// Identity is the authenticated principal of the messaging client.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// String renders the identity the way the messaging client describes contacts.
func (i Identity) String() string {
	name := i.Name
	if name == "" {
		name = i.ID
	}
	return fmt.Sprintf("Contact<%s>", name)
}

// Snapshot is an immutable copy of State.
type Snapshot struct {
	Phase          Phase
	Message        string
	Identity       *Identity
	Authenticated  bool
	SuppressFaults bool
}

// State is the single current session record. Mutations are issued by the
// lifecycle dispatcher only.
type State struct {
	mu             sync.RWMutex
	message        string
	identity       *Identity
	authenticated  bool
	suppressFaults bool
}

func NewState() *State {
	return &State{}
}

// Challenge records a pending challenge URI and drops authentication.
func (s *State) Challenge(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = uri
	s.authenticated = false
}

// Authenticate enters a new session and ends any loss episode.
func (s *State) Authenticate(id Identity, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
	s.identity = &id
	s.authenticated = true
	s.suppressFaults = false
}

// Deauthenticate clears the session without touching fault suppression.
func (s *State) Deauthenticate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = ""
	s.identity = nil
	s.authenticated = false
}

// MarkLoss clears the session and suppresses fault reporting until the next
// Authenticate.
func (s *State) MarkLoss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = ""
	s.identity = nil
	s.authenticated = false
	s.suppressFaults = true
}

func (s *State) SuppressingFaults() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suppressFaults
}

// Identity returns a copy of the current identity, or nil.
func (s *State) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyIdentity(s.identity)
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Phase:          s.phaseLocked(),
		Message:        s.message,
		Identity:       copyIdentity(s.identity),
		Authenticated:  s.authenticated,
		SuppressFaults: s.suppressFaults,
	}
}

// A pending challenge outranks suppression: the operator must see it.
func (s *State) phaseLocked() Phase {
	switch {
	case s.authenticated:
		return PhaseAuthenticated
	case s.message != "":
		return PhaseChallenged
	case s.suppressFaults:
		return PhaseLossSuppressed
	default:
		return PhaseAwaitingChallenge
	}
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
