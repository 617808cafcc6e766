package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

const (
	// DefaultConnectTimeout bounds a connection attempt and any caller
	// waiting on one.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultRetryDelay is the fixed pause before a reconnect attempt.
	DefaultRetryDelay = 5 * time.Second
)

// Supervisor owns the lifecycle of the single realtime connection. It is the
// only component that touches the transport reference; everything else goes
// through the Registry. Failed connections are retried with a fixed delay
// and a single outstanding timer, indefinitely, until Disconnect or an auth
// rejection. The unbounded retry count is deliberate: the caller observes
// StatusError and decides when to stop.
type Supervisor struct {
	dial     Dialer
	registry *Registry
	logger   *slog.Logger

	connectTimeout time.Duration
	retryDelay     time.Duration

	mu              sync.Mutex
	status          Status
	transport       Transport
	gen             int
	attempt         chan struct{}
	attemptErr      error
	retryTimer      *time.Timer
	statusListeners []func(Status)
	onAuthExpired   func()
}

type SupervisorOption func(*Supervisor)

func WithConnectTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.connectTimeout = d
	}
}

func WithRetryDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.retryDelay = d
	}
}

func NewSupervisor(dial Dialer, registry *Registry, logger *slog.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		dial:           dial,
		registry:       registry,
		logger:         logger.With(slog.String("component", "supervisor")),
		connectTimeout: DefaultConnectTimeout,
		retryDelay:     DefaultRetryDelay,
		status:         StatusDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns the current connection state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// OnStatusChange registers listener to run on every state transition.
func (s *Supervisor) OnStatusChange(listener func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusListeners = append(s.statusListeners, listener)
}

// OnAuthExpired registers f to run when a connection attempt fails because
// the credential was rejected. Fires for background retries too, where no
// caller is around to observe the error.
func (s *Supervisor) OnAuthExpired(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAuthExpired = f
}

// Connect ensures a live connection. Idempotent: when already connected it
// returns immediately; when an attempt is in flight the caller waits for
// that attempt's outcome rather than opening a second physical connection.
// The wait is bounded by the configured connect timeout.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case StatusConnected:
		s.mu.Unlock()
		return nil
	case StatusConnecting:
		done := s.attempt
		s.mu.Unlock()
		timer := time.NewTimer(s.connectTimeout)
		defer timer.Stop()
		select {
		case <-done:
			s.mu.Lock()
			err := s.attemptErr
			s.mu.Unlock()
			return err
		case <-timer.C:
			return ErrConnectTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.stopRetryLocked()
	done := make(chan struct{})
	s.attempt = done
	s.setStatusLocked(StatusConnecting)

	err := s.runAttempt(ctx)

	s.mu.Lock()
	s.attemptErr = err
	s.attempt = nil
	s.mu.Unlock()
	close(done)
	return err
}

// runAttempt dials and installs the transport. Entered with s.mu held in
// the connecting state; returns with s.mu released.
func (s *Supervisor) runAttempt(ctx context.Context) error {
	s.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()
	t, err := s.dial(dctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrConnectTimeout
		}
		return s.attemptFailed(err)
	}

	s.mu.Lock()
	if s.status != StatusConnecting {
		// Disconnect won the race; drop the fresh connection
		s.mu.Unlock()
		t.Disconnect()
		return ErrNotConnected
	}
	s.gen++
	gen := s.gen
	s.transport = t
	s.mu.Unlock()

	t.OnClose(func(cause error) {
		s.transportClosed(gen, cause)
	})
	s.registry.bind(t)

	s.mu.Lock()
	s.setStatusLocked(StatusConnected)
	s.mu.Unlock()
	s.logger.Info("connected")
	return nil
}

func (s *Supervisor) attemptFailed(err error) error {
	authErr := errors.Is(err, ErrAuthExpired)

	s.mu.Lock()
	if s.status != StatusConnecting {
		// Disconnect was called while dialing; stay disconnected
		s.mu.Unlock()
		return err
	}
	s.setStatusLocked(StatusError)
	onAuth := s.onAuthExpired
	if !authErr {
		s.scheduleRetryLocked()
	}
	s.mu.Unlock()

	if authErr {
		s.logger.Error(fmt.Sprintf("connect rejected: %v", err))
		if onAuth != nil {
			onAuth()
		}
	} else {
		s.logger.Error(fmt.Sprintf("connect failed: %v", err))
	}
	return err
}

// Disconnect cancels any pending retry, tears down all subscriptions, and
// deactivates the transport. No-op when already disconnected.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	if s.status == StatusDisconnected {
		s.mu.Unlock()
		return
	}
	s.stopRetryLocked()
	t := s.transport
	s.transport = nil
	s.gen++
	s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()

	s.registry.teardown()
	if t != nil {
		t.Disconnect()
	}
	s.logger.Info("disconnected")
}

// transportClosed handles an unsolicited connection loss. gen guards
// against callbacks from transports that were already replaced.
func (s *Supervisor) transportClosed(gen int, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.status != StatusConnected {
		s.mu.Unlock()
		return
	}
	s.transport = nil
	s.setStatusLocked(StatusError)
	s.scheduleRetryLocked()
	s.mu.Unlock()

	s.registry.unbind()
	if cause != nil {
		s.logger.Error(fmt.Sprintf("connection lost: %v", cause))
	} else {
		s.logger.Info("connection closed by server")
	}
}

// scheduleRetryLocked arms the reconnect timer unless one is already
// outstanding. Retry attempts are never stacked.
func (s *Supervisor) scheduleRetryLocked() {
	if s.retryTimer != nil {
		return
	}
	s.retryTimer = time.AfterFunc(s.retryDelay, func() {
		s.mu.Lock()
		s.retryTimer = nil
		if s.status != StatusError {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.logger.Info("reconnecting")
		s.Connect(context.Background())
	})
}

func (s *Supervisor) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// setStatusLocked records the transition and notifies listeners on a
// separate goroutine so a listener calling back into the supervisor cannot
// deadlock.
func (s *Supervisor) setStatusLocked(status Status) {
	if s.status == status {
		return
	}
	s.status = status
	listeners := make([]func(Status), len(s.statusListeners))
	copy(listeners, s.statusListeners)
	go func() {
		for _, l := range listeners {
			l(status)
		}
	}()
}
