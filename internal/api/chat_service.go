package api

import (
	"context"

	"github.com/matheus3301/gigline/internal/conversation"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Conversations is the conversation store surface the chat service exposes.
type Conversations interface {
	Contacts() []conversation.Contact
	Messages(peerID string) []conversation.Message
	Send(ctx context.Context, peerID, content string) (conversation.Message, error)
	SetActiveContact(peerID string)
	SendTyping(ctx context.Context, peerID string) error
}

// History fetches conversation history over REST.
type History interface {
	LoadHistory(ctx context.Context, peerID string) (int, error)
	EnsureHistory(ctx context.Context, peerID string) error
}

// ChatService implements ChatServer.
type ChatService struct {
	conv    Conversations
	history History
	logger  *zap.Logger
}

// NewChatService creates a new chat service.
func NewChatService(conv Conversations, history History, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{conv: conv, history: history, logger: logger}
}

func (s *ChatService) ListContacts(_ context.Context, _ *ListContactsRequest) (*ListContactsResponse, error) {
	contacts := s.conv.Contacts()
	resp := &ListContactsResponse{Contacts: make([]Contact, 0, len(contacts))}
	for _, c := range contacts {
		resp.Contacts = append(resp.Contacts, contactToWire(c))
	}
	return resp, nil
}

// ListMessages returns a conversation oldest first. A positive limit keeps
// only the newest messages.
func (s *ChatService) ListMessages(_ context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	if req.PeerID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "peer_id is required")
	}
	msgs := s.conv.Messages(req.PeerID)
	if req.Limit > 0 && len(msgs) > req.Limit {
		msgs = msgs[len(msgs)-req.Limit:]
	}
	resp := &ListMessagesResponse{Messages: make([]Message, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageToWire(m))
	}
	return resp, nil
}

func (s *ChatService) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	msg, err := s.conv.Send(ctx, req.PeerID, req.Content)
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return &SendMessageResponse{Message: messageToWire(msg)}, nil
}

// SetActiveContact activates the conversation and fetches its history the
// first time it is opened.
func (s *ChatService) SetActiveContact(ctx context.Context, req *SetActiveContactRequest) (*SetActiveContactResponse, error) {
	s.conv.SetActiveContact(req.PeerID)
	resp := &SetActiveContactResponse{}
	if req.PeerID == "" {
		return resp, nil
	}
	if err := s.history.EnsureHistory(ctx, req.PeerID); err != nil {
		s.logger.Warn("history fetch failed", zap.String("peer", req.PeerID), zap.Error(err))
		resp.HistoryError = err.Error()
	}
	return resp, nil
}

func (s *ChatService) SendTyping(ctx context.Context, req *SendTypingRequest) (*SendTypingResponse, error) {
	if err := s.conv.SendTyping(ctx, req.PeerID); err != nil {
		return nil, toStatus("send typing", err)
	}
	return &SendTypingResponse{}, nil
}

func (s *ChatService) LoadHistory(ctx context.Context, req *LoadHistoryRequest) (*LoadHistoryResponse, error) {
	if req.PeerID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "peer_id is required")
	}
	n, err := s.history.LoadHistory(ctx, req.PeerID)
	if err != nil {
		return nil, toStatus("load history", err)
	}
	return &LoadHistoryResponse{Added: n}, nil
}
