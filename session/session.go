// Package session wraps a single controller connection's lifecycle: TCP
// connect, ENIP RegisterSession (via logix.Connect's Forward Open), and
// explicit or reconnect-driven teardown. It is a thin state machine over
// logix.Client, grounded on that package's Connect/Option pattern.
package session

import (
	"sync"
	"time"

	"goenip/errs"
	"goenip/logix"
)

// State is the session lifecycle phase.
type State int

const (
	StateDisconnected State = iota
	StateRegistering
	StateRegistered
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Option configures a Connect call. Re-exported from logix so callers of
// this package don't need to import logix directly for routing options.
type Option = logix.Option

func WithSlot(slot byte) Option        { return logix.WithSlot(slot) }
func WithRoutePath(path []byte) Option { return logix.WithRoutePath(path) }
func WithoutConnection() Option        { return logix.WithoutConnection() }

// RegisterTimeout bounds how long Connect waits for RegisterSession to
// complete before failing with a Timeout error.
const RegisterTimeout = 5 * time.Second

// Session tracks one controller connection's state alongside the
// logix.Client used to exercise it.
type Session struct {
	mu      sync.Mutex
	address string
	client  *logix.Client
	state   State
	opts    []Option
}

// Connect dials address and registers a session, failing with a Timeout
// error if registration does not complete within RegisterTimeout.
func Connect(address string, opts ...Option) (*Session, error) {
	s := &Session{address: address, state: StateRegistering, opts: opts}

	type outcome struct {
		client *logix.Client
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		client, err := logix.Connect(address, opts...)
		done <- outcome{client, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			s.mu.Lock()
			s.state = StateDisconnected
			s.mu.Unlock()
			return nil, errs.Wrap(errs.KindConnection, out.err, "session register failed for %s", address)
		}
		s.mu.Lock()
		s.client = out.client
		s.state = StateRegistered
		s.mu.Unlock()
		return s, nil

	case <-time.After(RegisterTimeout):
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return nil, errs.New(errs.KindTimeout, "session register timed out after %s connecting to %s", RegisterTimeout, address)
	}
}

// Close unregisters the session and closes the TCP connection. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected || s.state == StateClosing {
		return nil
	}
	s.state = StateClosing
	if s.client != nil {
		s.client.Close()
	}
	s.state = StateDisconnected
	return nil
}

// Reconnect tears down the current client (if any) and establishes a fresh
// one, per the error-handling policy of reconnecting after Io, Timeout, or
// Protocol failures.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	addr := s.address
	opts := s.opts
	old := s.client
	s.state = StateRegistering
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	client, err := logix.Connect(addr, opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateDisconnected
		return errs.Wrap(errs.KindConnection, err, "reconnect failed for %s", addr)
	}
	s.client = client
	s.state = StateRegistered
	return nil
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRegistered reports whether the session currently holds a registered
// connection.
func (s *Session) IsRegistered() bool {
	return s.State() == StateRegistered
}

// Address returns the controller address this session targets.
func (s *Session) Address() string {
	return s.address
}

// Client returns the underlying logix.Client for tag operations. Returns
// nil if the session is not currently registered.
func (s *Session) Client() *logix.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRegistered {
		return nil
	}
	return s.client
}

// Handle returns the ENIP session handle assigned by the controller, or 0
// if not registered.
func (s *Session) Handle() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.client.PLC() == nil || s.client.PLC().Connection == nil {
		return 0
	}
	return s.client.PLC().Connection.GetSession()
}

// MaxPacketSize returns the negotiated connection size, or 0 when using
// unconnected messaging.
func (s *Session) MaxPacketSize() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return 0
	}
	_, size := s.client.ConnectionInfo()
	return size
}

// Ping issues a cheap List Identity request over the existing TCP
// connection to confirm the controller is still reachable, without
// touching tag state. Used by the connection pool's health check loop.
func (s *Session) Ping() error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || client.PLC() == nil || client.PLC().Connection == nil {
		return errs.New(errs.KindConnection, "Ping: session %s has no active connection", s.address)
	}
	_, err := client.PLC().Connection.ListIdentityTCP()
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "Ping: %s unreachable", s.address)
	}
	return nil
}
