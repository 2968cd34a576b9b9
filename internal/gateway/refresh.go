package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/credential"
	"go.uber.org/zap"
)

// cycle is the one in-flight refresh. Waiters are settled together, in the
// order they joined.
type cycle struct {
	stale   string
	waiters []chan outcome
}

type outcome struct {
	cred credential.Credential
	err  error
}

// Refreshed is the payload of bus.SessionRefreshed.
type Refreshed struct {
	Fingerprint string
	Waiters     int
}

// Refresh joins the active refresh cycle, or starts one, for the given stale
// access token and returns the resulting credential. Nothing is replayed. An
// empty stale token means the current one.
//
// If the current credential is already different from stale, it is returned
// without refreshing.
func (g *Gateway) Refresh(ctx context.Context, stale string) (credential.Credential, error) {
	if stale == "" {
		cred, ok := g.Current()
		if !ok {
			return credential.Credential{}, ErrUnauthenticated
		}
		stale = cred.AccessToken
	}
	return g.await(ctx, stale)
}

// await suspends until the refresh cycle for stale settles. The cycle itself
// is detached from ctx: abandoning ctx only ends this caller's wait.
func (g *Gateway) await(ctx context.Context, stale string) (credential.Credential, error) {
	g.mu.Lock()
	if !g.has {
		g.mu.Unlock()
		return credential.Credential{}, ErrUnauthenticated
	}
	if g.cred.AccessToken != stale {
		// A cycle already settled after this call was dispatched.
		cred := g.cred
		g.mu.Unlock()
		return cred, nil
	}

	ch := make(chan outcome, 1)
	if g.cycle == nil {
		g.cycle = &cycle{stale: stale}
		go g.run(g.cycle, g.cred.RefreshToken)
	}
	g.cycle.waiters = append(g.cycle.waiters, ch)
	g.mu.Unlock()

	select {
	case o := <-ch:
		return o.cred, o.err
	case <-ctx.Done():
		return credential.Credential{}, ctx.Err()
	}
}

// run performs the refresh for c and settles its waiters.
func (g *Gateway) run(c *cycle, refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RefreshTimeout)
	defer cancel()

	g.logger.Info("refreshing credential")
	fresh, err := g.refresh(ctx, refreshToken)

	g.mu.Lock()
	waiters := c.waiters
	g.cycle = nil
	if !g.has || g.cred.AccessToken != c.stale {
		// Login or Logout replaced the credential while the refresh was in
		// flight; its result belongs to a session that no longer exists.
		o := outcome{cred: g.cred}
		if !g.has {
			o.err = ErrUnauthenticated
		}
		g.mu.Unlock()
		g.logger.Info("refresh result discarded; credential replaced meanwhile", zap.Int("waiters", len(waiters)))
		for _, w := range waiters {
			w <- o
		}
		return
	}
	if err == nil {
		fresh = g.cred.Rotate(fresh.AccessToken, fresh.RefreshToken)
		g.setCredential(fresh)
	} else {
		err = &RefreshError{Err: err}
		g.clearCredential()
	}
	onTerminated := g.onTerminated
	g.mu.Unlock()

	for _, w := range waiters {
		w <- outcome{cred: fresh, err: err}
	}

	if err != nil {
		g.logger.Warn("credential refresh failed; session terminated",
			zap.Error(err), zap.Int("waiters", len(waiters)), zap.Bool("timeout", isTimeout(err)))
		if onTerminated != nil {
			onTerminated(err)
		}
		return
	}
	g.logger.Info("credential refreshed",
		zap.String("fingerprint", fresh.Fingerprint()), zap.Int("waiters", len(waiters)))
	g.emit(bus.SessionRefreshed, Refreshed{Fingerprint: fresh.Fingerprint(), Waiters: len(waiters)})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	User         json.RawMessage `json:"user"`
}

// refresh calls the refresh endpoint directly. It never goes through Execute,
// so a 401 here ends the session instead of starting another cycle.
func (g *Gateway) refresh(ctx context.Context, refreshToken string) (credential.Credential, error) {
	if refreshToken == "" {
		return credential.Credential{}, errors.New("no refresh token")
	}
	call, err := JSONCall(http.MethodPost, RefreshPath, refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return credential.Credential{}, err
	}
	resp, err := g.dispatchDetached(ctx, call)
	if err != nil {
		return credential.Credential{}, err
	}
	var tr tokenResponse
	if err := resp.Decode(call, &tr); err != nil {
		return credential.Credential{}, err
	}
	if tr.AccessToken == "" {
		return credential.Credential{}, errors.New("refresh response has no access_token")
	}
	return credential.Credential{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}, nil
}

// dispatchDetached sends an unauthenticated call bounded only by ctx.
func (g *Gateway) dispatchDetached(ctx context.Context, call Call) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, call.Method, g.cfg.BaseURL+call.Path, bodyReader(call.Body))
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", call.Method, call.Path, err)
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return g.roundTrip(req, call.Method+" "+call.Path)
}
