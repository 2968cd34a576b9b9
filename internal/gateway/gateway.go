// Package gateway wraps every outbound backend call. It attaches the current
// credential, and when the backend answers 401 it runs a single-flight refresh
// and replays each blocked call once with the new credential.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/credential"
	"go.uber.org/zap"
)

const (
	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh"
)

// maxResponseBody caps how much of a backend response is buffered.
const maxResponseBody = 8 << 20

// Call is a replayable description of one backend request. Body is held as
// bytes so the same call can be dispatched twice.
type Call struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// JSONCall builds a Call with v encoded as the body.
func JSONCall(method, path string, v any) (Call, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Call{}, fmt.Errorf("encode %s %s: %w", method, path, err)
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return Call{Method: method, Path: path, Header: h, Body: body}, nil
}

// Response is a fully buffered backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v, or returns a StatusError for non-2xx.
func (r *Response) Decode(call Call, v any) error {
	if !r.OK() {
		return newStatusError(call, r)
	}
	if v == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", call.Method, call.Path, err)
	}
	return nil
}

// Config holds gateway settings.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	RefreshTimeout time.Duration
}

// Gateway is the single write path to the credential store. The credential
// snapshot and the active refresh cycle are guarded by mu.
type Gateway struct {
	cfg    Config
	http   *http.Client
	store  credential.Store
	bus    *bus.Bus
	logger *zap.Logger

	mu    sync.Mutex
	cred  credential.Credential
	has   bool
	cycle *cycle

	onTerminated func(error)
}

// New creates a Gateway and loads the persisted credential from store.
// httpClient may be nil.
func New(cfg Config, httpClient *http.Client, store credential.Store, b *bus.Bus, logger *zap.Logger) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	g := &Gateway{
		cfg:    cfg,
		http:   httpClient,
		store:  store,
		bus:    b,
		logger: logger,
	}
	g.cred, g.has = store.Get()
	return g
}

// OnTerminated registers fn to run after a refresh cycle fails. It is called
// once per failed cycle, after every blocked call has been rejected.
func (g *Gateway) OnTerminated(fn func(error)) {
	g.mu.Lock()
	g.onTerminated = fn
	g.mu.Unlock()
}

// Current returns the credential snapshot.
func (g *Gateway) Current() (credential.Credential, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cred, g.has
}

// Execute dispatches call with the current credential. A 401 on the first
// attempt joins or starts a refresh cycle and the call is replayed once with
// the refreshed credential. Every other response, including a 401 on the
// replay, is returned as-is.
func (g *Gateway) Execute(ctx context.Context, call Call) (*Response, error) {
	cred, ok := g.Current()
	resp, err := g.dispatch(ctx, call, cred, ok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", call.Method, call.Path, ErrUnauthenticated)
	}

	fresh, err := g.await(ctx, cred.AccessToken)
	if err != nil {
		return nil, err
	}
	return g.dispatch(ctx, call, fresh, true)
}

// dispatch performs one HTTP round-trip bounded by the request timeout.
func (g *Gateway) dispatch(ctx context.Context, call Call, cred credential.Credential, authed bool) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, call.Method, g.cfg.BaseURL+call.Path, bodyReader(call.Body))
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", call.Method, call.Path, err)
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if authed && cred.Valid() {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}
	return g.roundTrip(req, call.Method+" "+call.Path)
}

func (g *Gateway) roundTrip(req *http.Request, op string) (*Response, error) {
	httpResp, err := g.http.Do(req)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

func bodyReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}

// setCredential replaces the snapshot and persists it. Must be called with mu
// held. A persistence failure is logged; the in-memory credential still
// applies for the life of the process.
func (g *Gateway) setCredential(c credential.Credential) {
	g.cred, g.has = c, c.Valid()
	if err := g.store.Set(c); err != nil {
		g.logger.Warn("persist credential failed", zap.Error(err))
	}
}

// clearCredential must be called with mu held.
func (g *Gateway) clearCredential() {
	g.cred, g.has = credential.Credential{}, false
	if err := g.store.Clear(); err != nil {
		g.logger.Warn("clear credential failed", zap.Error(err))
	}
}

func (g *Gateway) emit(kind string, payload any) {
	if g.bus != nil {
		g.bus.Emit(kind, payload)
	}
}

// isTimeout reports whether err came from a deadline.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
