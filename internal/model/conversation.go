// Package model 包含了应用的数据模型定义。
package model

import "time"

// 会话轮次的角色。远端模型不要求角色严格交替，这里也不做强制。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表会话中的一条轮次消息。
// Images 保存用户随消息上传的图片（base64 data URL），按提交顺序排列；
// 助手消息不携带图片。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Images    []string  `json:"images,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
