package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/channel"
	"github.com/matheus3301/gigline/internal/credential"
	"github.com/matheus3301/gigline/internal/gateway"
	"github.com/matheus3301/gigline/internal/status"
	"github.com/matheus3301/gigline/internal/store"
)

type fakeAuth struct {
	mu         sync.Mutex
	cred       credential.Credential
	has        bool
	fresh      credential.Credential
	refreshErr error
	refreshes  int
	loginErr   error
	onTerm     func(error)
}

func (a *fakeAuth) Login(_ context.Context, email, _ string) (*gateway.LoginResult, error) {
	if a.loginErr != nil {
		return nil, a.loginErr
	}
	a.mu.Lock()
	a.cred, a.has = credential.New("a-login", "r-login"), true
	a.mu.Unlock()
	user, _ := json.Marshal(map[string]any{"id": 7, "email": email, "full_name": "Alice"})
	return &gateway.LoginResult{Credential: a.cred, User: user}, nil
}

func (a *fakeAuth) Logout() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cred, a.has = credential.Credential{}, false
	return nil
}

func (a *fakeAuth) Current() (credential.Credential, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cred, a.has
}

func (a *fakeAuth) Refresh(context.Context, string) (credential.Credential, error) {
	a.mu.Lock()
	a.refreshes++
	if a.refreshErr != nil {
		err := &gateway.RefreshError{Err: a.refreshErr}
		a.cred, a.has = credential.Credential{}, false
		onTerm := a.onTerm
		a.mu.Unlock()
		if onTerm != nil {
			onTerm(err)
		}
		return credential.Credential{}, err
	}
	a.cred = a.fresh
	a.mu.Unlock()
	return a.fresh, nil
}

func (a *fakeAuth) OnTerminated(fn func(error)) { a.onTerm = fn }

// fakeChannel answers successive Opens from a queue of results.
type fakeChannel struct {
	mu      sync.Mutex
	results []error
	opened  []credential.Credential
	state   status.State
	lastErr error
	cur     chan channel.Event
	closes  int
}

func (c *fakeChannel) Open(_ context.Context, cred credential.Credential) (<-chan channel.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = append(c.opened, cred)
	var err error
	if len(c.results) > 0 {
		err, c.results = c.results[0], c.results[1:]
	}
	if err != nil {
		c.state, c.lastErr = status.ClosedWithError, err
		return nil, err
	}
	c.state, c.lastErr = status.Connected, nil
	c.cur = make(chan channel.Event, 4)
	return c.cur, nil
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.state = status.Disconnected
	if c.cur != nil {
		close(c.cur)
		c.cur = nil
	}
}

// drop ends the current stream by failure.
func (c *fakeChannel) drop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state, c.lastErr = status.ClosedWithError, err
	c.cur <- channel.ClosedEvent{Err: err}
	close(c.cur)
	c.cur = nil
}

func (c *fakeChannel) State() status.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == "" {
		return status.Disconnected
	}
	return c.state
}

func (c *fakeChannel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *fakeChannel) openCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.opened)
}

type fakeRunner struct {
	onClosed func(error)
	runs     atomic.Int32
	resets   atomic.Int32
}

func (r *fakeRunner) Run(_ context.Context, events <-chan channel.Event) {
	r.runs.Add(1)
	for evt := range events {
		if c, ok := evt.(channel.ClosedEvent); ok && r.onClosed != nil {
			r.onClosed(c.Err)
		}
	}
}

func (r *fakeRunner) OnClosed(fn func(error)) { r.onClosed = fn }
func (r *fakeRunner) Reset()                  { r.resets.Add(1) }

type fakeConv struct {
	mu     sync.Mutex
	self   string
	resets int
}

func (c *fakeConv) SetSelf(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = id
}

func (c *fakeConv) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
	c.self = ""
}

type memUsers struct {
	mu sync.Mutex
	u  *store.User
}

func (m *memUsers) SaveUser(u store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.u = &u
	return nil
}

func (m *memUsers) LoadUser() (store.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.u == nil {
		return store.User{}, false, nil
	}
	return *m.u, true, nil
}

func (m *memUsers) ClearUser() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.u = nil
	return nil
}

type harness struct {
	auth   *fakeAuth
	ch     *fakeChannel
	runner *fakeRunner
	conv   *fakeConv
	users  *memUsers
	bus    *bus.Bus
	sup    *Supervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		auth:   &fakeAuth{},
		ch:     &fakeChannel{},
		runner: &fakeRunner{},
		conv:   &fakeConv{},
		users:  &memUsers{},
		bus:    bus.New(),
	}
	h.sup = New(h.auth, h.ch, h.runner, h.conv, h.users, h.bus, nil)
	t.Cleanup(h.sup.Stop)
	return h
}

func (h *harness) loggedIn(access string) {
	h.auth.cred, h.auth.has = credential.New(access, "r1"), true
}

var errRejected = fmt.Errorf("%w: handshake status 401", channel.ErrChannelRejected)

func TestLoginConnects(t *testing.T) {
	h := newHarness(t)
	events, unsub := h.bus.Subscribe(bus.SessionTerminated, 1)
	defer unsub()

	u, err := h.sup.Login(context.Background(), "alice@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "7" || u.DisplayName != "Alice" {
		t.Errorf("user = %+v", u)
	}
	if h.conv.self != "7" {
		t.Errorf("conversation self = %q", h.conv.self)
	}
	if saved, ok, _ := h.users.LoadUser(); !ok || saved.ID != "7" {
		t.Errorf("saved user = %+v, %v", saved, ok)
	}
	if got := h.ch.opened; len(got) != 1 || got[0].AccessToken != "a-login" {
		t.Errorf("opened with %+v", got)
	}
	st := h.sup.Status()
	if !st.LoggedIn || st.Channel != status.Connected || st.Terminated {
		t.Errorf("status = %+v", st)
	}
	select {
	case evt := <-events:
		t.Errorf("unexpected %s", evt.Kind)
	default:
	}
}

func TestLoginFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.auth.loginErr = gateway.ErrLoginRejected
	if _, err := h.sup.Login(context.Background(), "a", "b"); !errors.Is(err, gateway.ErrLoginRejected) {
		t.Errorf("error = %v", err)
	}
	if h.ch.openCount() != 0 {
		t.Error("channel opened after failed login")
	}
}

func TestConnectWithoutCredential(t *testing.T) {
	h := newHarness(t)
	if err := h.sup.Connect(context.Background()); !errors.Is(err, gateway.ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
}

// TestRejectedHandshakeRefreshesAndReopensOnce verifies the reconnect path
// goes through the refresh protocol and retries the open exactly once.
func TestRejectedHandshakeRefreshesAndReopensOnce(t *testing.T) {
	h := newHarness(t)
	h.loggedIn("a1")
	h.auth.fresh = credential.New("a2", "r2")
	h.ch.results = []error{errRejected, nil}

	if err := h.sup.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.auth.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", h.auth.refreshes)
	}
	if got := h.ch.opened; len(got) != 2 || got[1].AccessToken != "a2" {
		t.Errorf("opens = %+v", got)
	}
}

func TestRejectedTwiceTerminates(t *testing.T) {
	h := newHarness(t)
	h.loggedIn("a1")
	h.auth.fresh = credential.New("a2", "r2")
	h.ch.results = []error{errRejected, errRejected}
	events, unsub := h.bus.Subscribe(bus.SessionTerminated, 4)
	defer unsub()

	err := h.sup.Connect(context.Background())
	if !errors.Is(err, gateway.ErrUnauthenticated) || !channel.IsRejected(err) {
		t.Fatalf("error = %v", err)
	}
	if h.ch.openCount() != 2 {
		t.Errorf("opens = %d, want 2", h.ch.openCount())
	}
	if _, ok := h.auth.Current(); ok {
		t.Error("credential survived termination")
	}
	expectTerminatedOnce(t, events)
	if !h.sup.Status().Terminated {
		t.Error("status does not report termination")
	}
}

// TestRefreshRejectedTerminatesOnce covers the refresh endpoint answering
// 401 during an auth-driven reopen: the session ends exactly once, the
// conversation is reset and nothing is retried.
func TestRefreshRejectedTerminatesOnce(t *testing.T) {
	h := newHarness(t)
	h.loggedIn("a1")
	h.auth.refreshErr = errors.New("POST /auth/refresh: status 401")
	h.ch.results = []error{errRejected}
	events, unsub := h.bus.Subscribe(bus.SessionTerminated, 4)
	defer unsub()

	err := h.sup.Connect(context.Background())
	var re *gateway.RefreshError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want RefreshError", err)
	}
	if h.ch.openCount() != 1 {
		t.Errorf("opens = %d, want 1 (no reopen after failed refresh)", h.ch.openCount())
	}
	expectTerminatedOnce(t, events)
	if h.conv.resets == 0 {
		t.Error("conversation not reset on termination")
	}

	// A second failure in the same session does not notify again.
	h.sup.terminate(errors.New("again"))
	select {
	case evt := <-events:
		t.Errorf("second termination notice: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTerminationResetsOnLogin(t *testing.T) {
	h := newHarness(t)
	events, unsub := h.bus.Subscribe(bus.SessionTerminated, 4)
	defer unsub()

	h.sup.terminate(errors.New("first session"))
	expectTerminatedOnce(t, events)

	if _, err := h.sup.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatal(err)
	}
	if h.sup.Status().Terminated {
		t.Error("termination flag survived a new login")
	}
	h.sup.terminate(errors.New("second session"))
	expectTerminatedOnce(t, events)
}

func TestPolicyDropReopens(t *testing.T) {
	h := newHarness(t)
	h.loggedIn("a1")
	h.auth.fresh = credential.New("a2", "r2")
	if err := h.sup.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.runner.runs.Load() == 1 })

	h.ch.drop(fmt.Errorf("%w: status 1008", channel.ErrChannelRejected))

	waitFor(t, func() bool { return h.ch.openCount() == 2 })
	if got := h.ch.opened[1].AccessToken; got != "a2" {
		t.Errorf("reopened with %s, want a2", got)
	}
	waitFor(t, func() bool { return h.runner.runs.Load() == 2 })
}

// rotatingBackend accepts one access token on /data and hands out a1 -> a2 ->
// a3 on successive refreshes.
type rotatingBackend struct {
	mu        sync.Mutex
	valid     string
	issued    int
	refreshes atomic.Int32
}

func (b *rotatingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case gateway.RefreshPath:
		b.refreshes.Add(1)
		b.mu.Lock()
		b.issued++
		b.valid = fmt.Sprintf("a%d", b.issued+1)
		token := b.valid
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token, "refresh_token": "r-" + token})
	case "/data":
		b.mu.Lock()
		valid := b.valid
		b.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "ok")
	default:
		http.NotFound(w, r)
	}
}

// TestPolicyDropAfterRestRefreshReusesCredential: a REST call has already
// rotated a1 to a2 when the channel opened with a1 is rejected. The reopen
// must use a2 without spending the refresh token a second time.
func TestPolicyDropAfterRestRefreshReusesCredential(t *testing.T) {
	backend := &rotatingBackend{}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	creds := credential.NewMemoryStore()
	_ = creds.Set(credential.New("a1", "r1"))
	gw := gateway.New(gateway.Config{BaseURL: srv.URL}, srv.Client(), creds, nil, nil)

	ch := &fakeChannel{}
	runner := &fakeRunner{}
	sup := New(gw, ch, runner, &fakeConv{}, &memUsers{}, bus.New(), nil)
	t.Cleanup(sup.Stop)

	if err := sup.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return runner.runs.Load() == 1 })

	if _, err := gw.Execute(context.Background(), gateway.Call{Method: http.MethodGet, Path: "/data"}); err != nil {
		t.Fatal(err)
	}
	if got := backend.refreshes.Load(); got != 1 {
		t.Fatalf("refreshes after REST call = %d, want 1", got)
	}

	ch.drop(fmt.Errorf("%w: status 1008", channel.ErrChannelRejected))

	waitFor(t, func() bool { return ch.openCount() == 2 })
	ch.mu.Lock()
	reopened := ch.opened[1].AccessToken
	ch.mu.Unlock()
	if reopened != "a2" {
		t.Errorf("reopened with %s, want a2", reopened)
	}
	if got := backend.refreshes.Load(); got != 1 {
		t.Errorf("refreshes for one expiry = %d, want 1", got)
	}
}

// TestStopRacesReopen: a rejection arriving while Stop runs must not start
// a runner after Stop has returned.
func TestStopRacesReopen(t *testing.T) {
	h := newHarness(t)
	h.loggedIn("a1")
	h.auth.fresh = credential.New("a2", "r2")
	if err := h.sup.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.runner.runs.Load() == 1 })

	h.ch.drop(fmt.Errorf("%w: status 1008", channel.ErrChannelRejected))
	h.sup.Stop()

	runs := h.runner.runs.Load()
	time.Sleep(50 * time.Millisecond)
	if got := h.runner.runs.Load(); got != runs {
		t.Errorf("runner started after Stop: runs %d -> %d", runs, got)
	}
}

func TestTransportDropDoesNotReopen(t *testing.T) {
	h := newHarness(t)
	h.loggedIn("a1")
	if err := h.sup.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return h.runner.runs.Load() == 1 })

	h.ch.drop(&channel.TransientError{Op: "read", Err: errors.New("reset")})

	time.Sleep(50 * time.Millisecond)
	if h.ch.openCount() != 1 {
		t.Errorf("opens = %d, want 1 (no automatic retry)", h.ch.openCount())
	}
	if st := h.sup.Status(); st.Channel != status.ClosedWithError || st.ChannelError == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	h := newHarness(t)
	if _, err := h.sup.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := h.sup.Logout(); err != nil {
		t.Fatal(err)
	}
	st := h.sup.Status()
	if st.LoggedIn || st.User.ID != "" || st.Channel != status.Disconnected {
		t.Errorf("status after logout = %+v", st)
	}
	if _, ok, _ := h.users.LoadUser(); ok {
		t.Error("user survived logout")
	}
}

func TestStartRestoresSession(t *testing.T) {
	h := newHarness(t)
	_ = h.users.SaveUser(store.User{ID: "7", Email: "alice@example.com"})
	h.loggedIn("a1")

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.conv.self != "7" {
		t.Errorf("self = %q, want 7", h.conv.self)
	}
	if h.ch.openCount() != 1 {
		t.Errorf("opens = %d, want 1", h.ch.openCount())
	}
}

func TestStartWithoutCredentialWaits(t *testing.T) {
	h := newHarness(t)
	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.ch.openCount() != 0 {
		t.Error("channel opened without a credential")
	}
}

func expectTerminatedOnce(t *testing.T, events <-chan bus.Event) {
	t.Helper()
	select {
	case evt := <-events:
		if _, ok := evt.Payload.(Terminated); !ok {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no session.terminated event")
	}
	select {
	case evt := <-events:
		t.Errorf("duplicate termination notice: %+v", evt)
	case <-time.After(30 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectWhenConnectedIsNoop(t *testing.T) {
	h := newHarness(t)
	h.loggedIn("a1")
	if err := h.sup.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.sup.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect = %v", err)
	}
	if h.ch.openCount() != 1 {
		t.Errorf("opens = %d, want 1", h.ch.openCount())
	}
}
