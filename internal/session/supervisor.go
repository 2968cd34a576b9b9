// Package session sequences the authenticated session: login, opening the
// channel with the current credential, the auth-driven reopen through the
// refresh protocol, logout, and the single termination notice per login.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/gigline/internal/backend"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/channel"
	"github.com/matheus3301/gigline/internal/credential"
	"github.com/matheus3301/gigline/internal/gateway"
	"github.com/matheus3301/gigline/internal/status"
	"github.com/matheus3301/gigline/internal/store"
	"go.uber.org/zap"
)

// Authenticator is the gateway surface the supervisor drives.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*gateway.LoginResult, error)
	Logout() error
	Current() (credential.Credential, bool)
	Refresh(ctx context.Context, stale string) (credential.Credential, error)
	OnTerminated(fn func(error))
}

// Channel is the connection manager surface the supervisor drives.
type Channel interface {
	Open(ctx context.Context, cred credential.Credential) (<-chan channel.Event, error)
	Close()
	State() status.State
	LastError() error
}

// EventRunner consumes channel streams.
type EventRunner interface {
	Run(ctx context.Context, events <-chan channel.Event)
	OnClosed(fn func(error))
	Reset()
}

// Conversation is the state cleared when a session ends.
type Conversation interface {
	SetSelf(id string)
	Reset()
}

// Users persists the identity of the logged-in account.
type Users interface {
	SaveUser(store.User) error
	LoadUser() (store.User, bool, error)
	ClearUser() error
}

// Terminated is the payload of bus.SessionTerminated.
type Terminated struct {
	Reason string
}

// Status is a snapshot of the session.
type Status struct {
	LoggedIn          bool
	User              store.User
	Fingerprint       string
	ExpiresAt         time.Time
	Channel           status.State
	ChannelError      string
	Terminated        bool
	TerminationReason string
}

// Supervisor owns session sequencing. Create with New, then Start.
type Supervisor struct {
	auth   Authenticator
	ch     Channel
	runner EventRunner
	conv   Conversation
	users  Users
	bus    *bus.Bus
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	user       store.User
	opened     credential.Credential // credential the current channel was opened with
	terminated bool
	reason     string
	stopped    bool
	runs       sync.WaitGroup
}

// New wires a Supervisor and registers it for gateway and channel failures.
func New(auth Authenticator, ch Channel, runner EventRunner, conv Conversation, users Users, b *bus.Bus, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		auth:   auth,
		ch:     ch,
		runner: runner,
		conv:   conv,
		users:  users,
		bus:    b,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	auth.OnTerminated(s.terminate)
	runner.OnClosed(s.onChannelClosed)
	return s
}

// Start restores the persisted identity and, when a credential survives from
// a previous run, opens the channel.
func (s *Supervisor) Start(ctx context.Context) error {
	if u, ok, err := s.users.LoadUser(); err != nil {
		s.logger.Warn("load user failed", zap.Error(err))
	} else if ok {
		s.mu.Lock()
		s.user = u
		s.mu.Unlock()
		s.conv.SetSelf(u.ID)
	}
	if _, ok := s.auth.Current(); !ok {
		s.logger.Info("no stored credential; waiting for login")
		return nil
	}
	if err := s.Connect(ctx); err != nil {
		// The daemon stays up; the client can reconnect or log in again.
		s.logger.Warn("initial connect failed", zap.Error(err))
	}
	return nil
}

// Stop closes the channel and waits for the event runner.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.ch.Close()
	s.cancel()
	s.runs.Wait()
}

// Login authenticates, records the user and opens the channel. A channel
// failure after a successful login is returned but leaves the session
// logged in.
func (s *Supervisor) Login(ctx context.Context, email, password string) (store.User, error) {
	s.ch.Close()
	res, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return store.User{}, err
	}

	var u store.User
	if len(res.User) > 0 {
		var bu backend.User
		if err := json.Unmarshal(res.User, &bu); err != nil {
			s.logger.Warn("login user object unreadable", zap.Error(err))
		} else {
			u = store.User{ID: bu.ID.String(), Email: bu.Email, DisplayName: bu.FullName}
		}
	}
	if u.Email == "" {
		u.Email = email
	}

	s.runner.Reset()
	s.conv.Reset()
	s.conv.SetSelf(u.ID)
	if err := s.users.SaveUser(u); err != nil {
		s.logger.Warn("save user failed", zap.Error(err))
	}
	s.mu.Lock()
	s.user, s.terminated, s.reason = u, false, ""
	s.mu.Unlock()

	s.logger.Info("session started", zap.String("user_id", u.ID))
	if err := s.Connect(ctx); err != nil {
		return u, fmt.Errorf("connect after login: %w", err)
	}
	return u, nil
}

// Connect opens the channel with the current credential. If the server
// rejects it, the credential is refreshed through the gateway and the open
// is retried exactly once. Connecting an open channel is a no-op.
func (s *Supervisor) Connect(ctx context.Context) error {
	cred, ok := s.auth.Current()
	if !ok {
		return gateway.ErrUnauthenticated
	}
	if s.ch.State() == status.Connected {
		return nil
	}
	events, err := s.ch.Open(ctx, cred)
	if channel.IsRejected(err) {
		return s.reopen(ctx, cred, err)
	}
	if err != nil {
		return err
	}
	s.run(cred, events)
	return nil
}

// reopen refreshes after the channel rejected stale and opens once more.
// When another caller already rotated stale, the gateway hands back the
// current credential without a new refresh.
func (s *Supervisor) reopen(ctx context.Context, stale credential.Credential, cause error) error {
	s.logger.Info("channel rejected; refreshing credential", zap.Error(cause))
	fresh, err := s.auth.Refresh(ctx, stale.AccessToken)
	if err != nil {
		// A failed cycle already ended the session through the gateway.
		return err
	}
	events, err := s.ch.Open(ctx, fresh)
	if channel.IsRejected(err) {
		s.terminate(err)
		return fmt.Errorf("%w: %w", gateway.ErrUnauthenticated, err)
	}
	if err != nil {
		return err
	}
	s.run(fresh, events)
	return nil
}

// run starts the event runner for a channel opened with cred.
func (s *Supervisor) run(cred credential.Credential, events <-chan channel.Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.ch.Close()
		return
	}
	s.opened = cred
	s.runs.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.runs.Done()
		s.runner.Run(s.ctx, events)
	}()
}

// onChannelClosed handles a connected channel ending by failure. Only a
// policy rejection triggers a reopen; transport drops wait for an explicit
// Connect.
func (s *Supervisor) onChannelClosed(err error) {
	if !channel.IsRejected(err) {
		s.logger.Warn("channel closed with error", zap.Error(err))
		return
	}
	if _, ok := s.auth.Current(); !ok {
		return
	}
	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
		defer cancel()
		if err := s.reopen(ctx, opened, err); err != nil {
			s.logger.Warn("reopen after rejection failed", zap.Error(err))
		}
	}()
}

// Disconnect closes the channel. The credential is kept.
func (s *Supervisor) Disconnect() {
	s.ch.Close()
}

// Logout closes the channel, forgets the credential and clears all session
// state.
func (s *Supervisor) Logout() error {
	s.ch.Close()
	err := s.auth.Logout()
	s.clear()
	s.mu.Lock()
	s.terminated, s.reason = false, ""
	s.mu.Unlock()
	return err
}

// terminate ends the session after an unrecoverable authorization failure.
// It runs at most once per login.
func (s *Supervisor) terminate(cause error) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.reason = cause.Error()
	s.mu.Unlock()

	s.ch.Close()
	if err := s.auth.Logout(); err != nil {
		s.logger.Warn("clear credential on termination failed", zap.Error(err))
	}
	s.clear()

	s.logger.Warn("session terminated", zap.Error(cause))
	if s.bus != nil {
		s.bus.Emit(bus.SessionTerminated, Terminated{Reason: cause.Error()})
	}
}

func (s *Supervisor) clear() {
	s.conv.Reset()
	s.runner.Reset()
	if err := s.users.ClearUser(); err != nil {
		s.logger.Warn("clear user failed", zap.Error(err))
	}
	s.mu.Lock()
	s.user = store.User{}
	s.opened = credential.Credential{}
	s.mu.Unlock()
}

// Status returns a snapshot of the session.
func (s *Supervisor) Status() Status {
	cred, ok := s.auth.Current()
	s.mu.Lock()
	st := Status{
		LoggedIn:          ok,
		User:              s.user,
		Terminated:        s.terminated,
		TerminationReason: s.reason,
	}
	s.mu.Unlock()
	if ok {
		st.Fingerprint = cred.Fingerprint()
		st.ExpiresAt = cred.ExpiresAt
	}
	st.Channel = s.ch.State()
	if err := s.ch.LastError(); err != nil {
		st.ChannelError = err.Error()
	}
	return st
}

// IsTerminal reports whether err ended, or requires, a login.
func IsTerminal(err error) bool {
	return errors.Is(err, gateway.ErrUnauthenticated)
}
