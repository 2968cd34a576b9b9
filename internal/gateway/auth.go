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

// LoginResult is what a successful login yields. User is the backend's user
// object, left undecoded for the caller.
type LoginResult struct {
	Credential credential.Credential
	User       json.RawMessage
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges email and password for a credential and stores it,
// replacing any current one.
func (g *Gateway) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	call, err := JSONCall(http.MethodPost, LoginPath, loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	resp, err := g.dispatchDetached(ctx, call)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %w", ErrLoginRejected, newStatusError(call, resp))
	}
	var tr tokenResponse
	if err := resp.Decode(call, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, errors.New("login response has no access_token")
	}

	cred := credential.New(tr.AccessToken, tr.RefreshToken)
	g.mu.Lock()
	g.setCredential(cred)
	g.mu.Unlock()

	g.logger.Info("logged in", zap.String("fingerprint", cred.Fingerprint()))
	g.emit(bus.SessionLoggedIn, nil)
	return &LoginResult{Credential: cred, User: tr.User}, nil
}

// Logout forgets the current credential. Calls blocked on a refresh cycle
// are rejected with ErrUnauthenticated when that cycle settles.
func (g *Gateway) Logout() error {
	g.mu.Lock()
	had := g.has
	g.cred, g.has = credential.Credential{}, false
	err := g.store.Clear()
	g.mu.Unlock()

	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if had {
		g.logger.Info("logged out")
		g.emit(bus.SessionLoggedOut, nil)
	}
	return nil
}
