// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"

	"career-chat-go/internal/model"
	"career-chat-go/internal/repository"
)

// ConversationService 定义了对话历史业务逻辑的接口。
type ConversationService interface {
	// GetConversationHistory 获取会话的完整消息历史，按提交顺序排列。
	GetConversationHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	// ClearConversation 清空会话历史与上下文（对应界面上的"清空对话"）。
	ClearConversation(ctx context.Context, sessionID string) error
}

type conversationService struct {
	repo repository.SessionRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.SessionRepository) ConversationService {
	return &conversationService{repo: repo}
}

func (s *conversationService) GetConversationHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	return s.repo.GetHistory(ctx, sessionID)
}

// ClearConversation 同时丢弃已缓存的响应 ID，下一轮将开启全新上下文。
func (s *conversationService) ClearConversation(ctx context.Context, sessionID string) error {
	return s.repo.Clear(ctx, sessionID)
}
