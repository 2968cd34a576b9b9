package api

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/session"
	"github.com/matheus3301/gigline/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Session is the supervisor surface the session service exposes.
type Session interface {
	Status() session.Status
	Login(ctx context.Context, email, password string) (store.User, error)
	Logout() error
	Connect(ctx context.Context) error
	Disconnect()
}

// SessionService implements SessionServer.
type SessionService struct {
	profile   string
	startedAt time.Time
	session   Session
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(profile string, s Session, b *bus.Bus, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		profile:   profile,
		startedAt: time.Now(),
		session:   s,
		bus:       b,
		logger:    logger,
	}
}

func (s *SessionService) Status(_ context.Context, _ *StatusRequest) (*StatusResponse, error) {
	st := s.session.Status()
	return &StatusResponse{
		Profile:           s.profile,
		LoggedIn:          st.LoggedIn,
		UserID:            st.User.ID,
		Email:             st.User.Email,
		DisplayName:       st.User.DisplayName,
		Fingerprint:       st.Fingerprint,
		ExpiresAtUnixMs:   unixMs(st.ExpiresAt),
		Channel:           string(st.Channel),
		ChannelError:      st.ChannelError,
		Terminated:        st.Terminated,
		TerminationReason: st.TerminationReason,
		UptimeMs:          time.Since(s.startedAt).Milliseconds(),
	}, nil
}

func (s *SessionService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "email and password are required")
	}
	u, err := s.session.Login(ctx, email, req.Password)
	if err != nil && u.Email == "" {
		return nil, toStatus("login", err)
	}
	resp := &LoginResponse{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName}
	if err != nil {
		resp.ConnectError = err.Error()
	}
	return resp, nil
}

func (s *SessionService) Logout(_ context.Context, _ *LogoutRequest) (*LogoutResponse, error) {
	if err := s.session.Logout(); err != nil {
		return nil, toStatus("logout", err)
	}
	return &LogoutResponse{}, nil
}

func (s *SessionService) Connect(ctx context.Context, _ *ConnectRequest) (*ConnectResponse, error) {
	if err := s.session.Connect(ctx); err != nil {
		return nil, toStatus("connect", err)
	}
	return &ConnectResponse{Channel: string(s.session.Status().Channel)}, nil
}

func (s *SessionService) Disconnect(_ context.Context, _ *DisconnectRequest) (*DisconnectResponse, error) {
	s.session.Disconnect()
	return &DisconnectResponse{}, nil
}

// WatchEvents streams bus events until the client goes away.
func (s *SessionService) WatchEvents(req *WatchEventsRequest, stream EventStream) error {
	ch, unsub := s.bus.Subscribe(req.Namespace, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env := &EventEnvelope{
				EventID:          uuid.New().String(),
				Profile:          s.profile,
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
			}
			if evt.Payload != nil {
				payload, err := json.Marshal(evt.Payload)
				if err != nil {
					s.logger.Warn("event payload not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				} else {
					env.Payload = payload
				}
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
