package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/realtime"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

var conversationNamespace = uuid.MustParse("6f1b7c8e-3d0a-5b8e-9c1e-2a4f6d8b0c11")

// ConversationID 由排序后的参与者对生成确定性 ID，与调用方顺序无关
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return uuid.NewSHA1(conversationNamespace, []byte(a+":"+b)).String()
}

// ConversationSummary 会话列表行
type ConversationSummary struct {
	ID          string             `json:"id"`
	Participant model.UserSnapshot `json:"participant"`
	LastMessage *LastMessage       `json:"last_message,omitempty"`
	ActivityAt  time.Time          `json:"activity_at"`
}

type LastMessage struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	SenderID string    `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
}

// MessagingService 私信
type MessagingService interface {
	OpenOrCreate(ctx context.Context, userID, otherID string) (*model.Conversation, error)
	GetConversation(ctx context.Context, conversationID, viewerID string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID, viewerID string, page, pageSize int) ([]*model.Message, error)
	RecentMessages(ctx context.Context, conversationID, viewerID string, n int) ([]*model.Message, error)
	SendMessage(ctx context.Context, conversationID, senderID, text string) (*model.Message, error)
}

type messagingService struct {
	db       *gorm.DB
	convs    repository.ConversationRepository
	messages repository.MessageRepository
	users    repository.UserRepository
	live     *realtime.Broadcaster
}

func NewMessagingService(db *gorm.DB, convs repository.ConversationRepository, messages repository.MessageRepository, users repository.UserRepository, live *realtime.Broadcaster) MessagingService {
	return &messagingService{db: db, convs: convs, messages: messages, users: users, live: live}
}

// OpenOrCreate 并发调用方得到同一条会话：主键冲突时什么也不做，随后读取
func (s *messagingService) OpenOrCreate(ctx context.Context, userID, otherID string) (*model.Conversation, error) {
	if userID == otherID {
		return nil, ErrMessageSelf
	}
	found, err := s.users.GetByIDs(ctx, []string{userID, otherID})
	if err != nil {
		return nil, err
	}
	if len(found) < 2 {
		return nil, ErrUserNotFound
	}

	a, b := userID, otherID
	if b < a {
		a, b = b, a
	}
	id := ConversationID(a, b)
	now := time.Now().UTC()
	conv := &model.Conversation{ID: id, UserAID: a, UserBID: b, ActivityAt: now, CreatedAt: now}
	if err := s.convs.CreateIfAbsent(ctx, conv); err != nil {
		return nil, err
	}
	got, err := s.convs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.live.Signal(realtime.ConversationsTopic(a), realtime.ConversationsTopic(b))
	return got, nil
}

func (s *messagingService) GetConversation(ctx context.Context, conversationID, viewerID string) (*model.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(viewerID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// ListConversations 按最近活动倒序，对方已不存在的会话被丢弃
func (s *messagingService) ListConversations(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	convs, err := s.convs.ListForUser(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	others := make([]string, len(convs))
	for i, c := range convs {
		others[i] = c.Other(userID)
	}
	users, err := s.users.GetByIDs(ctx, others)
	if err != nil {
		return nil, err
	}
	res := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		u, ok := users[c.Other(userID)]
		if !ok {
			continue
		}
		row := ConversationSummary{ID: c.ID, Participant: u.Snapshot(), ActivityAt: c.ActivityAt}
		if c.LastMessageID != nil && c.LastMessageAt != nil {
			row.LastMessage = &LastMessage{
				ID:       *c.LastMessageID,
				Text:     c.LastMessageText,
				SenderID: c.LastSenderID,
				SentAt:   *c.LastMessageAt,
			}
		}
		res = append(res, row)
	}
	return res, nil
}

func (s *messagingService) ListMessages(ctx context.Context, conversationID, viewerID string, page, pageSize int) ([]*model.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 200
	}
	return s.messages.ListByConversation(ctx, conversationID, (page-1)*pageSize, pageSize)
}

// RecentMessages 最近 n 条，时间正序
func (s *messagingService) RecentMessages(ctx context.Context, conversationID, viewerID string, n int) ([]*model.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	return s.messages.Recent(ctx, conversationID, n)
}

// SendMessage 追加消息并更新会话的最后一条消息指针，二者在同一事务内
func (s *messagingService) SendMessage(ctx context.Context, conversationID, senderID, text string) (msg *model.Message, err error) {
	defer func() { metrics.Observe("send_message", err) }()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	conv, err := s.GetConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	msg = &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewMessageRepository(tx).Create(ctx, msg); err != nil {
			return err
		}
		return repository.NewConversationRepository(tx).UpdateLastMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	s.live.Signal(
		realtime.MessagesTopic(conversationID),
		realtime.ConversationsTopic(conv.UserAID),
		realtime.ConversationsTopic(conv.UserBID),
	)
	return msg, nil
}
