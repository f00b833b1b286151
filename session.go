package aaclient

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// SessionState is the lifecycle stage of a Session.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateInitializing
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ClientFactory builds a fully initialized client for a connected signer.
// NewClient with fixed configuration is the usual implementation.
type ClientFactory func(ctx context.Context, signer Signer) (*Client, error)

// Session owns the single live Client of a wallet session.
//
// Connect builds the new client off to the side and publishes it with one
// atomic store, so Client never returns a partially built value: readers see
// either the previous client or the new one. When connects overlap (rapid
// account switches) only the most recent one is published; older ones return
// ErrSuperseded.
type Session struct {
	factory ClientFactory
	log     *zap.Logger

	client atomic.Pointer[Client]

	mu      sync.Mutex
	gen     uint64
	state   SessionState
	changed chan struct{}
}

// NewSession returns an uninitialized session.
func NewSession(factory ClientFactory, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		factory: factory,
		log:     log,
		changed: make(chan struct{}),
	}
}

// setState must be called with s.mu held.
func (s *Session) setState(state SessionState) {
	s.state = state
	close(s.changed)
	s.changed = make(chan struct{})
}

// State returns the current lifecycle stage.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Client returns the published client, or nil before the first successful
// Connect and after Disconnect.
func (s *Session) Client() *Client {
	return s.client.Load()
}

// Connect initializes a client for signer and publishes it. It is called on
// wallet connect and again on every account or network change.
func (s *Session) Connect(ctx context.Context, signer Signer) (*Client, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.setState(StateInitializing)
	s.mu.Unlock()

	log := s.log.With(zap.Stringer("owner", signer.Address()), zap.Uint64("generation", gen))
	log.Debug("initializing session")

	c, err := s.factory(ctx, signer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		log.Debug("discarding superseded session")
		return nil, ErrSuperseded
	}
	if err != nil {
		s.client.Store(nil)
		s.setState(StateUninitialized)
		log.Warn("session initialization failed", zap.Error(err))
		return nil, err
	}
	s.client.Store(c)
	s.setState(StateReady)
	log.Info("session ready", zap.Stringer("account", c.SmartAccountAddress()))
	return c, nil
}

// Disconnect tears the session down. An in-flight Connect is superseded.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.client.Store(nil)
	s.setState(StateUninitialized)
	s.log.Info("session disconnected")
}

// Await blocks until the session is Ready and returns its client.
func (s *Session) Await(ctx context.Context) (*Client, error) {
	for {
		s.mu.Lock()
		if s.state == StateReady {
			c := s.client.Load()
			s.mu.Unlock()
			return c, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}
