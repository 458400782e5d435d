package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/sessionrelay/internal/fault"
	"github.com/danmuck/sessionrelay/internal/session"
	"github.com/danmuck/sessionrelay/internal/testutil/testlog"
)

type fakeClient struct {
	loggedIn atomic.Bool
	logouts  atomic.Int32
	err      error
}

func (c *fakeClient) IsLoggedIn() bool { return c.loggedIn.Load() }

func (c *fakeClient) Logout(context.Context) error {
	c.logouts.Add(1)
	c.loggedIn.Store(false)
	return c.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []session.Event
}

func (n *recordingNotifier) Notify(evt session.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *recordingNotifier) kinds() []session.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]session.EventKind, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

func (n *recordingNotifier) reset() []session.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.events
	n.events = nil
	return out
}

type chanSource chan Signal

func (s chanSource) Signals() <-chan Signal { return s }

var u1 = session.Identity{ID: "u1", Name: "Alice"}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeClient, *recordingNotifier) {
	t.Helper()
	testlog.Start(t)
	client := &fakeClient{}
	notifier := &recordingNotifier{}
	d, err := NewDispatcher(Config{Node: "relay-test"}, session.NewState(), client, notifier)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d, client, notifier
}

func waitDetached(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait detached: %v", err)
	}
}

func sameKinds(got, want []session.EventKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNewDispatcherRequiresState(t *testing.T) {
	if _, err := NewDispatcher(Config{}, nil, nil, nil); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}

func TestChallengeRendersURIWithoutRelay(t *testing.T) {
	d, _, notifier := newTestDispatcher(t)
	d.OnChallenge("abc")

	snap := d.State().Snapshot()
	if snap.Message != DefaultChallengeBaseURL+"abc" || snap.Authenticated {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(notifier.kinds()) != 0 {
		t.Fatalf("challenge must not relay, got %v", notifier.kinds())
	}
}

func TestChallengeURIEscapesComponent(t *testing.T) {
	cases := []struct {
		token string
		want  string
	}{
		{"a b/c?d=e&f+g", "https://q.test/a%20b%2Fc%3Fd%3De%26f%2Bg"},
		{"a'b(c)!*~-_.", "https://q.test/a'b(c)!*~-_."},
		{"%21 literal", "https://q.test/%2521%20literal"},
	}
	for _, tc := range cases {
		if got := ChallengeURI("https://q.test/", tc.token); got != tc.want {
			t.Fatalf("ChallengeURI(%q) = %q, want %q", tc.token, got, tc.want)
		}
	}
}

func TestAuthenticatedSetsStateAndRelays(t *testing.T) {
	d, _, notifier := newTestDispatcher(t)
	d.OnChallenge("abc")
	d.OnAuthenticated(u1)

	snap := d.State().Snapshot()
	if !snap.Authenticated || snap.SuppressFaults || snap.Identity == nil || *snap.Identity != u1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Message != "Contact<Alice> is already login" {
		t.Fatalf("unexpected confirmation: %q", snap.Message)
	}
	events := notifier.reset()
	if len(events) != 1 || events[0].Kind != session.EventAuthenticated || *events[0].Identity != u1 {
		t.Fatalf("unexpected relayed events: %+v", events)
	}
}

func TestLossFaultResetsOnceAndSuppressesRepeats(t *testing.T) {
	d, client, notifier := newTestDispatcher(t)
	d.OnAuthenticated(u1)
	client.loggedIn.Store(true)
	notifier.reset()

	d.OnFault(errors.New("AssertionError: '1205' == 0"))
	waitDetached(t, d)

	if got := notifier.kinds(); !sameKinds(got, []session.EventKind{session.EventDeauthenticated, session.EventFault}) {
		t.Fatalf("expected logout then error relay, got %v", got)
	}
	events := notifier.reset()
	for _, e := range events {
		if e.Identity == nil || *e.Identity != u1 {
			t.Fatalf("event %s must carry the identity current at signal time: %+v", e.Kind, e.Identity)
		}
	}
	if events[1].Error != "AssertionError: '1205' == 0" {
		t.Fatalf("unexpected fault detail %q", events[1].Error)
	}
	if client.logouts.Load() != 1 {
		t.Fatalf("expected one explicit logout, got %d", client.logouts.Load())
	}
	snap := d.State().Snapshot()
	if snap.Authenticated || snap.Identity != nil || !snap.SuppressFaults || snap.Phase != session.PhaseLossSuppressed {
		t.Fatalf("unexpected snapshot after loss: %+v", snap)
	}

	d.OnFault(errors.New("AssertionError: '1205' == 0"))
	d.OnFault(errors.New("socket hang up"))
	waitDetached(t, d)
	if got := notifier.kinds(); len(got) != 0 {
		t.Fatalf("suppressed faults must not relay, got %v", got)
	}
	if after := d.State().Snapshot(); after != snap {
		t.Fatalf("suppressed faults must not change state: before=%+v after=%+v", snap, after)
	}
	if client.logouts.Load() != 1 {
		t.Fatalf("suppressed faults must not log out again")
	}
}

func TestFaultWhileClientLoggedOutSkipsExplicitLogout(t *testing.T) {
	d, client, notifier := newTestDispatcher(t)
	d.OnAuthenticated(u1)
	notifier.reset()

	d.OnFault(errors.New("network unreachable"))
	waitDetached(t, d)

	if client.logouts.Load() != 0 {
		t.Fatalf("client already logged out, no explicit logout expected")
	}
	if got := notifier.kinds(); !sameKinds(got, []session.EventKind{session.EventDeauthenticated, session.EventFault}) {
		t.Fatalf("unexpected relays: %v", got)
	}
	if !d.State().SuppressingFaults() {
		t.Fatalf("loss must start suppression")
	}
}

func TestTransientFaultRelaysErrorOnly(t *testing.T) {
	d, client, notifier := newTestDispatcher(t)
	d.OnAuthenticated(u1)
	client.loggedIn.Store(true)
	notifier.reset()

	d.OnFault(errors.New("ETIMEDOUT"))
	d.OnFault(nil)

	if got := notifier.kinds(); !sameKinds(got, []session.EventKind{session.EventFault, session.EventFault}) {
		t.Fatalf("unexpected relays: %v", got)
	}
	snap := d.State().Snapshot()
	if !snap.Authenticated || snap.SuppressFaults || snap.Identity == nil {
		t.Fatalf("transient fault must not touch session: %+v", snap)
	}
}

func TestDeauthenticatedRelaysRegardlessOfSuppression(t *testing.T) {
	d, client, notifier := newTestDispatcher(t)
	d.OnAuthenticated(u1)
	client.loggedIn.Store(true)
	d.OnFault(errors.New("'1101' == 0"))
	waitDetached(t, d)
	notifier.reset()

	d.OnDeauthenticated(u1)
	events := notifier.reset()
	if len(events) != 1 || events[0].Kind != session.EventDeauthenticated || *events[0].Identity != u1 {
		t.Fatalf("unexpected relays: %+v", events)
	}
	if !d.State().SuppressingFaults() {
		t.Fatalf("deauthenticated must not reset suppression")
	}

	d.OnAuthenticated(u1)
	d.OnDeauthenticated(u1)
	snap := d.State().Snapshot()
	if snap.Authenticated || snap.Identity != nil || snap.Message != "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestAuthenticationEndsLossEpisode(t *testing.T) {
	d, client, notifier := newTestDispatcher(t)
	d.OnAuthenticated(u1)
	d.OnFault(errors.New("x"))
	d.OnAuthenticated(u1)
	client.loggedIn.Store(true)
	notifier.reset()

	d.OnFault(errors.New("'3' == 0"))
	waitDetached(t, d)
	if got := notifier.kinds(); !sameKinds(got, []session.EventKind{session.EventDeauthenticated, session.EventFault}) {
		t.Fatalf("new episode must report its loss, got %v", got)
	}
}

func TestLogoutFailureIsSwallowed(t *testing.T) {
	d, client, notifier := newTestDispatcher(t)
	client.err = errors.New("already closed")
	d.OnAuthenticated(u1)
	client.loggedIn.Store(true)
	notifier.reset()

	d.OnFault(errors.New("'1102' == 0"))
	waitDetached(t, d)
	if len(notifier.kinds()) != 2 {
		t.Fatalf("logout failure must not affect relays")
	}
}

func TestCustomClassifierIsUsed(t *testing.T) {
	testlog.Start(t)
	client := &fakeClient{}
	client.loggedIn.Store(true)
	notifier := &recordingNotifier{}
	d, err := NewDispatcher(Config{Classifier: fault.NewClassifier("kicked")}, session.NewState(), client, notifier)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	d.OnAuthenticated(u1)
	d.OnFault(errors.New("kicked by server"))
	waitDetached(t, d)
	if client.logouts.Load() != 1 || !d.State().SuppressingFaults() {
		t.Fatalf("configured pattern must classify as loss")
	}
}

func TestRunAppliesSignalsInOrder(t *testing.T) {
	d, _, notifier := newTestDispatcher(t)
	src := make(chanSource, 4)
	src <- Signal{Kind: SignalChallenge, Token: "abc"}
	src <- Signal{Kind: SignalAuthenticated, Identity: u1}
	src <- Signal{Kind: "bogus"}
	src <- Signal{Kind: SignalDeauthenticated, Identity: u1}
	close(src)

	err := d.Run(context.Background(), src)
	if !errors.Is(err, ErrSourceStopped) {
		t.Fatalf("expected ErrSourceStopped, got %v", err)
	}
	if got := notifier.kinds(); !sameKinds(got, []session.EventKind{session.EventAuthenticated, session.EventDeauthenticated}) {
		t.Fatalf("unexpected relays: %v", got)
	}
}

func TestRunStopsOnContext(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx, make(chanSource)); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
}

func TestFaultUsesFlagCarriedBySignal(t *testing.T) {
	d, client, notifier := newTestDispatcher(t)
	d.OnAuthenticated(u1)
	notifier.reset()

	// The live client already reports logged out; the fault was seen while
	// the session was still up.
	client.loggedIn.Store(false)
	observed := true
	d.Handle(Signal{Kind: SignalFault, Err: errors.New("ETIMEDOUT"), LoggedIn: &observed})

	if got := notifier.kinds(); !sameKinds(got, []session.EventKind{session.EventFault}) {
		t.Fatalf("expected a single transient error relay, got %v", got)
	}
	if snap := d.State().Snapshot(); !snap.Authenticated || snap.SuppressFaults {
		t.Fatalf("transient fault changed state: %+v", snap)
	}

	notifier.reset()
	client.loggedIn.Store(true)
	gone := false
	d.Handle(Signal{Kind: SignalFault, Err: errors.New("ETIMEDOUT"), LoggedIn: &gone})
	waitDetached(t, d)
	if got := notifier.kinds(); !sameKinds(got, []session.EventKind{session.EventDeauthenticated, session.EventFault}) {
		t.Fatalf("expected loss relays, got %v", got)
	}
	if client.logouts.Load() != 0 {
		t.Fatalf("loss observed while logged out must not request logout")
	}
}
