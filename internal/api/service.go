// Package api exposes a session's messenger over gRPC on the daemon's
// unix socket.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/creativecareer/ccai/internal/bus"
	"github.com/creativecareer/ccai/internal/chat"
	"github.com/creativecareer/ccai/internal/delivery"
	"github.com/creativecareer/ccai/internal/status"
	"github.com/creativecareer/ccai/internal/store"
	"github.com/creativecareer/ccai/internal/timeline"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messenger is the session core as seen by the API.
type Messenger interface {
	State() status.State
	Online() bool
	UserID() string
	Conversations(term string) []chat.Conversation
	TotalUnread() int
	RefreshConversations(ctx context.Context) error
	OpenConversation(ctx context.Context, id string) ([]chat.Message, error)
	CloseConversation()
	OpenConversationID() string
	LoadOlder(ctx context.Context) (int, error)
	Timeline() ([]chat.Message, bool)
	Entries(loc *time.Location) []timeline.Entry
	Send(content string) (chat.TempID, error)
	NotifyTyping()
	Presence(userID string) (chat.Status, bool)
	InFlight() []chat.Draft
	Dropped() uint64
}

// FailureJournal is the failed-send journal.
type FailureJournal interface {
	List(ctx context.Context, statuses ...string) ([]store.FailedSend, error)
	Queue(ctx context.Context, tempID string) error
}

// watchBuffer is the bus subscription size of one WatchEvents stream.
const watchBuffer = 128

// Service implements MessengerServer.
type Service struct {
	sessionName string
	startedAt   time.Time
	messenger   Messenger
	journal     FailureJournal
	bus         *bus.Bus
	logger      *zap.Logger
}

var _ MessengerServer = (*Service)(nil)

// NewService creates the service. journal may be nil, in which case the
// journal methods report Unavailable.
func NewService(sessionName string, m Messenger, journal FailureJournal, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessionName: sessionName,
		startedAt:   time.Now(),
		messenger:   m,
		journal:     journal,
		bus:         b,
		logger:      logger,
	}
}

func (s *Service) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(StatusResponse{
		Session:          s.sessionName,
		State:            string(s.messenger.State()),
		Online:           s.messenger.Online(),
		UserID:           s.messenger.UserID(),
		OpenConversation: s.messenger.OpenConversationID(),
		TotalUnread:      s.messenger.TotalUnread(),
		InFlight:         len(s.messenger.InFlight()),
		Dropped:          s.messenger.Dropped(),
		UptimeMs:         time.Since(s.startedAt).Milliseconds(),
	})
}

func (s *Service) ListConversations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListConversationsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Refresh {
		if err := s.messenger.RefreshConversations(ctx); err != nil {
			return nil, toStatus("refresh conversations", err)
		}
	}
	convs := s.messenger.Conversations(req.Filter)
	if convs == nil {
		convs = []chat.Conversation{}
	}
	return reply(ListConversationsResponse{
		Conversations: convs,
		TotalUnread:   s.messenger.TotalUnread(),
	})
}

func (s *Service) OpenConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ConversationRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	if _, err := s.messenger.OpenConversation(ctx, req.ConversationID); err != nil {
		return nil, toStatus("open conversation", err)
	}
	return s.timeline(time.Local)
}

func (s *Service) CloseConversation(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.messenger.CloseConversation()
	return reply(nil)
}

func (s *Service) LoadOlder(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.messenger.LoadOlder(ctx)
	if err != nil {
		return nil, toStatus("load older", err)
	}
	_, more := s.messenger.Timeline()
	return reply(LoadOlderResponse{Added: n, HasMore: more})
}

func (s *Service) GetTimeline(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TimelineRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	loc := time.Local
	if req.Location != "" {
		l, err := time.LoadLocation(req.Location)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "location: %v", err)
		}
		loc = l
	}
	return s.timeline(loc)
}

func (s *Service) timeline(loc *time.Location) (*structpb.Struct, error) {
	id := s.messenger.OpenConversationID()
	_, more := s.messenger.Timeline()
	resp := TimelineResponse{
		ConversationID: id,
		HasMore:        more,
		Entries:        []TimelineEntry{},
	}
	for _, e := range s.messenger.Entries(loc) {
		if e.Separator {
			resp.Entries = append(resp.Entries, TimelineEntry{Separator: true, Day: e.Day.Format(time.DateOnly)})
			continue
		}
		msg := e.Message
		resp.Entries = append(resp.Entries, TimelineEntry{Message: &msg, Pending: msg.IsPending()})
	}
	if partner := s.partnerOf(id); partner != "" {
		resp.PartnerStatus, resp.PartnerTyping = s.messenger.Presence(partner)
	}
	return reply(resp)
}

func (s *Service) partnerOf(conversationID string) string {
	if conversationID == "" {
		return ""
	}
	for _, c := range s.messenger.Conversations("") {
		if c.ID == conversationID {
			return c.Partner.ID
		}
	}
	return ""
}

func (s *Service) SendMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	tempID, err := s.messenger.Send(req.Content)
	if err != nil {
		return nil, toStatus("send message", err)
	}
	return reply(SendResponse{TempID: tempID})
}

func (s *Service) NotifyTyping(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.messenger.NotifyTyping()
	return reply(nil)
}

func (s *Service) GetPresence(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PresenceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "userId is required")
	}
	st, typing := s.messenger.Presence(req.UserID)
	return reply(PresenceResponse{UserID: req.UserID, Status: st, Typing: typing})
}

func (s *Service) ListFailedSends(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.journal == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "journal not initialized")
	}
	var req FailedSendsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	rows, err := s.journal.List(ctx, req.Statuses...)
	if err != nil {
		return nil, toStatus("list failed sends", err)
	}
	resp := FailedSendsResponse{Sends: make([]FailedSend, 0, len(rows))}
	for _, r := range rows {
		resp.Sends = append(resp.Sends, failedSendFromStore(r))
	}
	return reply(resp)
}

func (s *Service) RetrySend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.journal == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "journal not initialized")
	}
	var req RetryRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.TempID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "tempId is required")
	}
	if err := s.journal.Queue(ctx, req.TempID); err != nil {
		return nil, toStatus("retry send", err)
	}
	return reply(nil)
}

func (s *Service) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	var req WatchRequest
	if err := decode(in, &req); err != nil {
		return err
	}
	if s.bus == nil {
		return grpcstatus.Error(codes.Unavailable, "bus not initialized")
	}

	ch, unsub := s.bus.Subscribe("", watchBuffer)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matchesAny(evt.Kind, req.Prefixes) {
				continue
			}
			out, err := envelope(evt)
			if err != nil {
				s.logger.Warn("skipping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func matchesAny(kind string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

func envelope(evt bus.Event) (*structpb.Struct, error) {
	payload, err := toValue(eventPayload(evt.Payload))
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"eventId":    structpb.NewStringValue(uuid.NewString()),
		"kind":       structpb.NewStringValue(evt.Kind),
		"occurredAt": structpb.NewStringValue(evt.Timestamp.UTC().Format(time.RFC3339Nano)),
		"payload":    payload,
	}}, nil
}

// eventPayload gives bus payloads a stable JSON shape.
func eventPayload(p any) any {
	switch v := p.(type) {
	case *delivery.SendError:
		return map[string]string{
			"tempId":         string(v.TempID),
			"conversationId": v.Draft.ConversationID,
			"content":        v.Draft.Content,
			"reason":         v.Reason,
		}
	case chat.PresenceChanged:
		return map[string]string{"userId": v.UserID, "status": string(v.Status)}
	case chat.TypingChanged:
		return map[string]any{"userId": v.UserID, "conversationId": v.ConversationID, "isTyping": v.IsTyping}
	case chat.ReadReceipt:
		return map[string]string{"userId": v.UserID, "conversationId": v.ConversationID}
	default:
		return p
	}
}

func decode(in *structpb.Struct, v any) error {
	if err := FromStruct(in, v); err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	return nil
}

func reply(v any) (*structpb.Struct, error) {
	out, err := ToStruct(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
