// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"career-chat-go/internal/model"
)

// ErrEmptySessionID 表示调用方传入了空的会话 ID。
var ErrEmptySessionID = errors.New("session id 不能为空")

// SessionRepository 定义了会话状态（对话历史与响应上下文）的操作接口。
// 会话状态仅存在于进程内存中，进程结束即销毁，不做任何持久化。
type SessionRepository interface {
	// GetHistory 返回指定会话的全部轮次，按提交顺序排列。
	// 会话不存在时返回空历史而非错误。
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	// AppendMessages 将若干轮次按顺序追加到会话末尾。
	AppendMessages(ctx context.Context, sessionID string, messages ...model.ChatMessage) error
	// Clear 清空会话的全部轮次与响应上下文。
	Clear(ctx context.Context, sessionID string) error
	// GetResponseID 返回上一次远端响应的 ID，用于多轮上下文串联。
	GetResponseID(ctx context.Context, sessionID string) (string, error)
	// SetResponseID 记录最近一次远端响应的 ID。
	SetResponseID(ctx context.Context, sessionID string, responseID string) error
}

// 默认的会话空闲过期时间。
const defaultIdleExpire = 2 * time.Hour

type sessionState struct {
	messages   []model.ChatMessage
	responseID string
	lastActive time.Time
}

type memorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	expire   time.Duration
}

// NewSessionRepository 创建一个内存态的 SessionRepository 实例。
// idleExpire <= 0 时使用默认过期时间。
func NewSessionRepository(idleExpire time.Duration) SessionRepository {
	if idleExpire <= 0 {
		idleExpire = defaultIdleExpire
	}
	return &memorySessionRepository{
		sessions: make(map[string]*sessionState),
		expire:   idleExpire,
	}
}

// GetHistory 返回会话轮次的一份拷贝，调用方修改返回值不会影响存储。
func (r *memorySessionRepository) GetHistory(_ context.Context, sessionID string) ([]model.ChatMessage, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return []model.ChatMessage{}, nil
	}
	out := make([]model.ChatMessage, len(st.messages))
	copy(out, st.messages)
	return out, nil
}

// AppendMessages 将消息追加到会话末尾并刷新活跃时间。
func (r *memorySessionRepository) AppendMessages(_ context.Context, sessionID string, messages ...model.ChatMessage) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if len(messages) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.getOrCreateLocked(sessionID)
	st.messages = append(st.messages, messages...)
	st.lastActive = time.Now()
	return nil
}

// Clear 清空会话状态。会话不存在时视为成功。
func (r *memorySessionRepository) Clear(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

func (r *memorySessionRepository) GetResponseID(_ context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySessionID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return "", nil
	}
	return st.responseID, nil
}

func (r *memorySessionRepository) SetResponseID(_ context.Context, sessionID string, responseID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.getOrCreateLocked(sessionID)
	st.responseID = responseID
	st.lastActive = time.Now()
	return nil
}

func (r *memorySessionRepository) getOrCreateLocked(sessionID string) *sessionState {
	st, ok := r.sessions[sessionID]
	if !ok {
		st = &sessionState{lastActive: time.Now()}
		r.sessions[sessionID] = st
	}
	return st
}

// PruneExpired 删除空闲超过过期时间的会话，返回删除数量。
// 由调用方在后台定期触发。
func (r *memorySessionRepository) PruneExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, st := range r.sessions {
		if now.Sub(st.lastActive) > r.expire {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// StartJanitor 启动后台清理协程，ctx 取消时退出。
func StartJanitor(ctx context.Context, repo SessionRepository, interval time.Duration) {
	mem, ok := repo.(*memorySessionRepository)
	if !ok {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			mem.PruneExpired(now)
		}
	}
}
