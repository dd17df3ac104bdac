package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/internal/ai"
	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/repository"
	"github.com/d60-Lab/connectnow/pkg/logger"
	"github.com/d60-Lab/connectnow/pkg/metrics"
)

// Result 生成服务调用结果。失败时 Success=false，Error 为可展示的错误信息
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func succeeded[T any](data T) Result[T] { return Result[T]{Success: true, Data: data} }

func failed[T any](op string, err error) Result[T] {
	logger.Warn("assistant call failed", zap.String("op", op), zap.Error(err))
	metrics.Observe(op, err)
	msg := err.Error()
	if msg == "" {
		msg = "An unexpected error occurred."
	}
	return Result[T]{Success: false, Error: msg}
}

// Generator 生成服务，由 ai.Client 实现
type Generator interface {
	ChatReply(ctx context.Context, in ai.ChatInput) (*ai.Reply, error)
	ProfileSuggestions(ctx context.Context, in ai.ProfileInput) (*ai.Suggestions, error)
	GenerateReel(ctx context.Context, prompt string) (string, error)
}

// AssistantService 聊天代答、主页优化建议、短视频生成。
// 返回的 error 只表示调用前置条件不满足，生成服务本身的失败放在 Result 中
type AssistantService interface {
	ChatReply(ctx context.Context, conversationID, userID, newMessage string) (Result[*ai.Reply], error)
	AnalyzeProfile(ctx context.Context, in ai.ProfileInput) Result[*ai.Suggestions]
	CreateReel(ctx context.Context, prompt string) Result[string]
}

type assistantService struct {
	gen          Generator
	messaging    MessagingService
	users        repository.UserRepository
	historyLimit int
}

func NewAssistantService(gen Generator, messaging MessagingService, users repository.UserRepository, historyLimit int) AssistantService {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &assistantService{gen: gen, messaging: messaging, users: users, historyLimit: historyLimit}
}

func (s *assistantService) ChatReply(ctx context.Context, conversationID, userID, newMessage string) (Result[*ai.Reply], error) {
	if strings.TrimSpace(newMessage) == "" {
		return Result[*ai.Reply]{}, ErrEmptyContent
	}
	conv, err := s.messaging.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return Result[*ai.Reply]{}, err
	}
	people, err := s.users.GetByIDs(ctx, []string{conv.UserAID, conv.UserBID})
	if err != nil {
		return Result[*ai.Reply]{}, err
	}
	me, okMe := people[userID]
	other, okOther := people[conv.Other(userID)]
	if !okMe || !okOther {
		return Result[*ai.Reply]{}, ErrUserNotFound
	}

	recent, err := s.messaging.RecentMessages(ctx, conversationID, userID, s.historyLimit)
	if err != nil {
		return Result[*ai.Reply]{}, err
	}
	history := make([]ai.HistoryEntry, len(recent))
	for i, m := range recent {
		history[i] = ai.HistoryEntry{SenderID: m.SenderID, Text: m.Text, SentAt: m.CreatedAt}
	}

	reply, err := s.gen.ChatReply(ctx, ai.ChatInput{
		History:     history,
		NewMessage:  newMessage,
		CurrentUser: persona(me),
		Participant: persona(other),
	})
	if err != nil {
		return failed[*ai.Reply]("ai_chat", err), nil
	}
	metrics.Observe("ai_chat", nil)
	return succeeded(reply), nil
}

func (s *assistantService) AnalyzeProfile(ctx context.Context, in ai.ProfileInput) Result[*ai.Suggestions] {
	out, err := s.gen.ProfileSuggestions(ctx, in)
	if err != nil {
		return failed[*ai.Suggestions]("ai_profile", err)
	}
	metrics.Observe("ai_profile", nil)
	return succeeded(out)
}

func (s *assistantService) CreateReel(ctx context.Context, prompt string) Result[string] {
	uri, err := s.gen.GenerateReel(ctx, prompt)
	if err != nil {
		return failed[string]("ai_reel", err)
	}
	metrics.Observe("ai_reel", nil)
	return succeeded(uri)
}

func persona(u *model.User) ai.Persona {
	return ai.Persona{ID: u.ID, Name: u.Name, Description: u.Bio}
}
