package lifecycle

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/sessionrelay/internal/fault"
	"github.com/danmuck/sessionrelay/internal/observability"
	"github.com/danmuck/sessionrelay/internal/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrNilState      = errors.New("lifecycle: session state required")
	ErrSourceStopped = errors.New("lifecycle: signal source closed")
)

const DefaultChallengeBaseURL = "https://wechaty.js.org/qrcode/"

// Config configures dispatcher rendering and detached work.
type Config struct {
	Node             string
	ChallengeBaseURL string
	LogoutTimeout    time.Duration
	Classifier       *fault.Classifier
}

func DefaultConfig() Config {
	return Config{
		Node:             "sessionrelay",
		ChallengeBaseURL: DefaultChallengeBaseURL,
		LogoutTimeout:    10 * time.Second,
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Node) == "" {
		c.Node = d.Node
	}
	if strings.TrimSpace(c.ChallengeBaseURL) == "" {
		c.ChallengeBaseURL = d.ChallengeBaseURL
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = d.LogoutTimeout
	}
	if c.Classifier == nil {
		c.Classifier = fault.NewClassifier()
	}
	return c
}

// Dispatcher owns session state and applies one signal at a time.
type Dispatcher struct {
	cfg      Config
	state    *session.State
	client   Client
	notifier Notifier

	mu       sync.Mutex
	handlers map[SignalKind]func(Signal)
	detached sync.WaitGroup
}

func NewDispatcher(cfg Config, state *session.State, client Client, notifier Notifier) (*Dispatcher, error) {
	if state == nil {
		return nil, ErrNilState
	}
	d := &Dispatcher{
		cfg:      cfg.WithDefaults(),
		state:    state,
		client:   client,
		notifier: notifier,
	}
	d.handlers = map[SignalKind]func(Signal){
		SignalChallenge:       func(s Signal) { d.onChallenge(s.Token) },
		SignalAuthenticated:   func(s Signal) { d.onAuthenticated(s.Identity) },
		SignalDeauthenticated: func(s Signal) { d.onDeauthenticated(s.Identity) },
		SignalFault:           func(s Signal) { d.onFault(s.Err, s.LoggedIn) },
	}
	observability.SetAuthenticated(d.cfg.Node, false)
	return d, nil
}

// State exposes the owned session state for read-only consumers.
func (d *Dispatcher) State() *session.State {
	return d.state
}

// Run applies signals from src until ctx ends or the source closes.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	signals := src.Signals()
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return ErrSourceStopped
			}
			d.Handle(sig)
		}
	}
}

// Handle applies one signal. Unknown kinds are logged and dropped.
func (d *Dispatcher) Handle(sig Signal) {
	h, ok := d.handlers[sig.Kind]
	if !ok {
		log.Warn().Str("signal", string(sig.Kind)).Msg("lifecycle_unknown_signal")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h(sig)
}

func (d *Dispatcher) OnChallenge(token string) {
	d.Handle(Signal{Kind: SignalChallenge, Token: token})
}

func (d *Dispatcher) OnAuthenticated(id session.Identity) {
	d.Handle(Signal{Kind: SignalAuthenticated, Identity: id})
}

func (d *Dispatcher) OnDeauthenticated(id session.Identity) {
	d.Handle(Signal{Kind: SignalDeauthenticated, Identity: id})
}

func (d *Dispatcher) OnFault(err error) {
	d.Handle(Signal{Kind: SignalFault, Err: err})
}

// Wait blocks until detached logouts finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.detached.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) onChallenge(token string) {
	uri := ChallengeURI(d.cfg.ChallengeBaseURL, token)
	d.state.Challenge(uri)
	observability.SetAuthenticated(d.cfg.Node, false)
	observability.RecordTransition(d.cfg.Node, string(SignalChallenge), "applied")
	log.Info().Str("uri", uri).Msg("lifecycle_challenge")
}

func (d *Dispatcher) onAuthenticated(id session.Identity) {
	d.state.Authenticate(id, id.String()+" is already login")
	observability.SetAuthenticated(d.cfg.Node, true)
	observability.RecordTransition(d.cfg.Node, string(SignalAuthenticated), "applied")
	log.Info().Str("user_id", id.ID).Str("user", id.Name).Msg("lifecycle_authenticated")
	d.notify(session.NewEvent(session.EventAuthenticated, &id, ""))
}

func (d *Dispatcher) onDeauthenticated(id session.Identity) {
	d.state.Deauthenticate()
	observability.SetAuthenticated(d.cfg.Node, false)
	observability.RecordTransition(d.cfg.Node, string(SignalDeauthenticated), "applied")
	log.Info().Str("user_id", id.ID).Str("user", id.Name).Msg("lifecycle_deauthenticated")
	d.notify(session.NewEvent(session.EventDeauthenticated, &id, ""))
}

// onFault reports at most one loss per episode. The fault that caused the
// loss is still relayed after the reset; later faults are swallowed until
// the next authentication.
func (d *Dispatcher) onFault(err error, observed *bool) {
	if d.state.SuppressingFaults() {
		observability.RecordTransition(d.cfg.Node, string(SignalFault), "suppressed")
		log.Debug().Err(err).Msg("lifecycle_fault_suppressed")
		return
	}

	text := ""
	if err != nil {
		text = err.Error()
	}
	current := d.state.Identity()
	loggedIn := d.clientLoggedIn()
	if observed != nil {
		loggedIn = *observed
	}
	verdict := d.cfg.Classifier.Classify(text, loggedIn)

	outcome := "transient"
	if verdict.Loss {
		outcome = "loss"
		if verdict.RequiresLogout {
			d.detachLogout()
		}
		d.notify(session.NewEvent(session.EventDeauthenticated, current, ""))
		d.state.MarkLoss()
		observability.SetAuthenticated(d.cfg.Node, false)
		log.Warn().
			Str("error", text).
			Bool("explicit_logout", verdict.RequiresLogout).
			Msg("lifecycle_fault_loss")
	} else {
		log.Error().Str("error", text).Msg("lifecycle_fault_transient")
	}
	observability.RecordTransition(d.cfg.Node, string(SignalFault), outcome)
	d.notify(session.NewEvent(session.EventFault, current, text))
}

// A missing client is treated as logged out: nothing can vouch for the session.
func (d *Dispatcher) clientLoggedIn() bool {
	if d.client == nil {
		return false
	}
	return d.client.IsLoggedIn()
}

func (d *Dispatcher) detachLogout() {
	if d.client == nil {
		return
	}
	d.detached.Add(1)
	go func() {
		defer d.detached.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.LogoutTimeout)
		defer cancel()
		if err := d.client.Logout(ctx); err != nil {
			log.Warn().Err(err).Msg("lifecycle_logout_failed")
		}
	}()
}

func (d *Dispatcher) notify(evt session.Event) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(evt)
}

// QueryEscape escapes these; URI components leave them literal.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// ChallengeURI appends the component-escaped token to base.
func ChallengeURI(base, token string) string {
	return base + componentUnescaper.Replace(url.QueryEscape(token))
}
