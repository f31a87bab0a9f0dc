// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"career-chat-go/internal/model"
	"career-chat-go/internal/repository"
	"career-chat-go/pkg/log"
	"career-chat-go/pkg/openai"

	"github.com/gorilla/websocket"
)

// ErrEmptyInput 表示本轮提交既没有文本也没有图片。
var ErrEmptyInput = errors.New("消息内容不能为空")

// DefaultInstructions 是内置的系统提示词，可被配置中的 prompt.instructions 覆盖。
const DefaultInstructions = `You are an expert AI Career Software Advisor specializing in helping software developers advance their careers.
You have access to a comprehensive knowledge base through RAG technology and should provide:

- Personalized career guidance for software developers
- Technical skill recommendations and learning paths
- Industry insights and market trends
- Code review and best practices advice
- Interview preparation and tips
- Resume and portfolio optimization suggestions
- Salary negotiation strategies
- Technology stack recommendations

Always provide actionable, specific advice tailored to the user's experience level and career goals.
Use the retrieved documents to support your recommendations with current industry data and best practices.
Be encouraging, professional, and focus on practical steps the user can take to advance their career.`

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// StreamResponse 处理一轮对话并将回复流式写入 WebSocket。
	// 仅在远端调用成功后才把本轮的用户消息与助手消息追加进会话历史。
	StreamResponse(ctx context.Context, sessionID, text string, images []string, ws *websocket.Conn, shouldStop func() bool) error
	// Ask 处理一轮对话并同步返回助手消息，供非 WebSocket 客户端使用。
	Ask(ctx context.Context, sessionID, text string, images []string) (*model.ChatMessage, error)
}

type chatService struct {
	client      openai.Client
	sessionRepo repository.SessionRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(client openai.Client, sessionRepo repository.SessionRepository) ChatService {
	return &chatService{
		client:      client,
		sessionRepo: sessionRepo,
	}
}

// StreamResponse 协调一轮对话：组装输入、调用远端、流式下发，最后更新会话状态。
func (s *chatService) StreamResponse(ctx context.Context, sessionID, text string, images []string, ws *websocket.Conn, shouldStop func() bool) error {
	input := buildInputParts(text, images)
	if len(input) == 0 {
		return ErrEmptyInput
	}

	prevID, err := s.sessionRepo.GetResponseID(ctx, sessionID)
	if err != nil {
		return err
	}

	// 拦截 websocket writer 以捕获完整答案，并包装为 JSON 分块
	interceptor := &wsWriterInterceptor{conn: ws, shouldStop: shouldStop}
	result, err := s.client.StreamResponse(ctx, openai.Request{
		Input:              input,
		PreviousResponseID: prevID,
	}, interceptor)
	if err != nil {
		// 远端失败：不追加任何轮次，历史保持原样
		return err
	}

	// 先落历史再发完成通知：客户端收到 completion 时查询历史必须已经可见。
	// 使用后台上下文保存，即使原始请求被取消，成功生成的答案也应入历史
	if err := s.commit(context.Background(), sessionID, text, images, result); err != nil {
		// 只记录错误，不返回给客户端，因为流式响应已经成功
		log.Errorf("保存会话历史失败: %v", err)
	}
	sendCompletion(ws)
	return nil
}

// Ask 以同步方式处理一轮对话。
func (s *chatService) Ask(ctx context.Context, sessionID, text string, images []string) (*model.ChatMessage, error) {
	input := buildInputParts(text, images)
	if len(input) == 0 {
		return nil, ErrEmptyInput
	}

	prevID, err := s.sessionRepo.GetResponseID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result, err := s.client.CreateResponse(ctx, openai.Request{
		Input:              input,
		PreviousResponseID: prevID,
	})
	if err != nil {
		return nil, err
	}

	if err := s.commit(ctx, sessionID, text, images, result); err != nil {
		log.Errorf("保存会话历史失败: %v", err)
	}
	return &model.ChatMessage{
		Role:      model.RoleAssistant,
		Content:   result.Text,
		Timestamp: time.Now(),
	}, nil
}

// commit 在远端调用成功后，把本轮的用户与助手消息一并追加进历史，
// 并记录新的响应 ID 供下一轮串联上下文。
func (s *chatService) commit(ctx context.Context, sessionID, text string, images []string, result *openai.Result) error {
	now := time.Now()
	err := s.sessionRepo.AppendMessages(ctx, sessionID,
		model.ChatMessage{Role: model.RoleUser, Content: strings.TrimSpace(text), Images: images, Timestamp: now},
		model.ChatMessage{Role: model.RoleAssistant, Content: result.Text, Timestamp: now},
	)
	if err != nil {
		return err
	}
	if result.ID != "" {
		return s.sessionRepo.SetResponseID(ctx, sessionID, result.ID)
	}
	return nil
}

// buildInputParts 把文本与图片组装为 Responses API 的输入消息。
// 与原始实现一致：空白文本被跳过，图片按提交顺序排列；两者皆空时返回空输入。
func buildInputParts(text string, images []string) []openai.InputItem {
	var content []openai.Part
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		content = append(content, openai.Part{Type: "input_text", Text: trimmed})
	}
	for _, img := range images {
		content = append(content, openai.Part{Type: "input_image", ImageURL: img})
	}
	if len(content) == 0 {
		return nil
	}
	return []openai.InputItem{{Type: "message", Role: model.RoleUser, Content: content}}
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，把原始分块包装为 {"chunk":"..."} 下发。
type wsWriterInterceptor struct {
	conn       *websocket.Conn
	shouldStop func() bool
}

// WriteMessage 满足 openai.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
