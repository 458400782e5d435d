package service

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/sessionrelay/internal/auth"
	"github.com/danmuck/sessionrelay/internal/bridge"
	"github.com/danmuck/sessionrelay/internal/config"
	"github.com/danmuck/sessionrelay/internal/fault"
	"github.com/danmuck/sessionrelay/internal/lifecycle"
	"github.com/danmuck/sessionrelay/internal/relay"
	"github.com/danmuck/sessionrelay/internal/server"
	"github.com/danmuck/sessionrelay/internal/session"
	"github.com/rs/zerolog/log"
)

const drainTimeout = 5 * time.Second

var ErrAlreadyStarted = errors.New("service: already started")

// Service runs the relay as a standalone process.
type Service struct {
	cfg config.Config

	state      *session.State
	relay      *relay.Relay
	bridge     *bridge.Client
	dispatcher *lifecycle.Dispatcher
	server     *server.Server
	listener   net.Listener
	token      string

	startOnce sync.Once
	ready     chan struct{}
}

func New(cfg config.Config) *Service {
	return &Service{cfg: cfg, ready: make(chan struct{})}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext bootstraps and serves until ctx ends.
func (s *Service) RunContext(ctx context.Context) error {
	started := false
	s.startOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyStarted
	}
	if err := s.bootstrap(); err != nil {
		return err
	}
	close(s.ready)
	return s.serve(ctx)
}

// Ready is closed once bootstrap has bound the HTTP listener.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound HTTP address. Valid after Ready.
func (s *Service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Token is the login API token in effect. Valid after Ready.
func (s *Service) Token() string {
	return s.token
}

func (s *Service) State() *session.State {
	return s.state
}

func (s *Service) bootstrap() error {
	if err := config.Validate(s.cfg); err != nil {
		return err
	}

	s.token = s.cfg.HTTP.Token
	if s.token == "" {
		token, err := auth.GenerateToken()
		if err != nil {
			return err
		}
		s.token = token
		log.Warn().Str("token", token).Msg("http_token_generated")
	}

	var sender relay.Sender
	if s.cfg.Relay.URL != "" {
		httpSender, err := relay.NewHTTPSender(s.cfg.Relay.URL, s.cfg.Relay.Timeout)
		if err != nil {
			return err
		}
		sender = httpSender
	} else {
		log.Warn().Msg("relay_url_unset")
	}
	s.relay = relay.New(s.cfg.Name, sender, s.cfg.Relay.Timeout)

	client, err := bridge.NewClient(bridge.Config{
		Address:        s.cfg.Bridge.Address,
		ConnectTimeout: s.cfg.Bridge.ConnectTimeout,
		WriteTimeout:   s.cfg.Bridge.WriteTimeout,
		Backoff: bridge.BackoffConfig{
			InitialDelay: s.cfg.Bridge.InitialBackoff,
			Multiplier:   s.cfg.Bridge.BackoffMultiplier,
			MaxDelay:     s.cfg.Bridge.MaxBackoff,
			Jitter:       true,
		},
	})
	if err != nil {
		return err
	}
	s.bridge = client

	s.state = session.NewState()
	s.dispatcher, err = lifecycle.NewDispatcher(lifecycle.Config{
		Node:             s.cfg.Name,
		ChallengeBaseURL: s.cfg.Lifecycle.ChallengeBaseURL,
		LogoutTimeout:    s.cfg.Lifecycle.LogoutTimeout,
		Classifier:       fault.NewClassifier(s.cfg.Lifecycle.ExtraLossPatterns...),
	}, s.state, s.bridge, s.relay)
	if err != nil {
		return err
	}

	s.server, err = server.New(server.Config{
		Node:        s.cfg.Name,
		Addr:        s.cfg.HTTP.Addr,
		CorsOrigins: s.cfg.HTTP.CorsOrigins,
	}, s.state, auth.RequireToken(auth.StaticToken{Token: s.token}))
	if err != nil {
		return err
	}
	s.listener, err = net.Listen("tcp", s.cfg.HTTP.Addr)
	if err != nil {
		return err
	}

	log.Info().
		Str("node", s.cfg.Name).
		Str("addr", s.Addr()).
		Str("bridge", s.cfg.Bridge.Address).
		Bool("relay_enabled", sender != nil).
		Int("loss_patterns", len(fault.KnownPatterns)+len(s.cfg.Lifecycle.ExtraLossPatterns)).
		Msg("service_ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("component", name).Msg("service_component_failed")
				errs <- err
			}
		}()
	}
	run("bridge", s.bridge.Run)
	run("dispatcher", func(ctx context.Context) error { return s.dispatcher.Run(ctx, s.bridge) })
	run("http", func(ctx context.Context) error { return s.server.ServeListener(ctx, s.listener) })

	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("node", s.cfg.Name).Msg("service_shutdown")
			break loop
		case err := <-errs:
			runErr = err
			break loop
		case <-ticker.C:
			s.heartbeat()
		}
	}

	cancel()
	wg.Wait()
	s.drain()
	return runErr
}

func (s *Service) heartbeat() {
	snap := s.state.Snapshot()
	event := log.Info().
		Str("node", s.cfg.Name).
		Str("phase", string(snap.Phase)).
		Bool("bridge_connected", s.bridge.Connected()).
		Bool("client_logged_in", s.bridge.IsLoggedIn())
	if snap.Identity != nil {
		event = event.Str("identity", snap.Identity.String())
	}
	event.Msg("service_heartbeat")
}

// drain waits a bounded time for detached logouts and deliveries.
func (s *Service) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.dispatcher.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("service_drain_logouts_incomplete")
	}
	if err := s.relay.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("service_drain_relay_incomplete")
	}
}
