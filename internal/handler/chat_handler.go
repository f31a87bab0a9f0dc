// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"career-chat-go/internal/middleware"
	"career-chat-go/internal/service"
	"career-chat-go/pkg/log"
	"career-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// 允许的图片附件类型，与前端上传控件保持一致。
var allowedImagePrefixes = []string{
	"data:image/jpeg;",
	"data:image/jpg;",
	"data:image/png;",
	"data:image/webp;",
}

// chatFrame 是 WebSocket 上行帧：一轮聊天或一条停止指令。
type chatFrame struct {
	Type     string   `json:"type"` // "chat" 或 "stop"
	Text     string   `json:"text"`
	Images   []string `json:"images"`
	CmdToken string   `json:"cmdToken"`
}

// askRequest 是同步聊天接口的请求体。文本与图片至少要有其一。
type askRequest struct {
	Text   string   `json:"text"`
	Images []string `json:"images" binding:"omitempty,dive,required"`
}

// ChatHandler 负责处理聊天请求（WebSocket 流式与同步 REST）。
type ChatHandler struct {
	chatService   service.ChatService
	stopToken     string
	stopTokenLock sync.Mutex
	// 每连接停止标志
	stopFlags sync.Map // key: 连接指针字符串, value: bool
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// GetStopToken 返回一个可用于停止流式响应的令牌。
func (h *ChatHandler) GetStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	// 单实例部署下一个轮换令牌即可，无需外部存储
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"cmdToken": h.stopToken}})
}

// Ask 处理同步聊天请求，阻塞直至远端返回完整回复。
func (h *ChatHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "请求格式错误", "data": nil})
		return
	}
	if err := validateImages(req.Images); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
		return
	}

	sessionID := middleware.SessionID(c)
	reply, err := h.chatService.Ask(c.Request.Context(), sessionID, req.Text, req.Images)
	if err != nil {
		if err == service.ErrEmptyInput {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
			return
		}
		log.Errorf("同步聊天请求失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "AI服务暂时不可用，请稍后重试", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": reply})
}

// HandleWebsocket 处理一个传入的 WebSocket 连接，连接期间可进行多轮对话。
func (h *ChatHandler) HandleWebsocket(c *gin.Context) {
	sessionID := middleware.SessionID(c)

	// Upgrade 自行写出 101 响应，中间件写进 c.Writer 的 Set-Cookie 会被丢弃。
	// 首次访问时签发的会话 Cookie 必须随握手响应头下发，否则浏览器拿到的
	// 会话 ID 与服务端存储历史的会话 ID 对不上。
	respHeader := http.Header{}
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		respHeader["Set-Cookie"] = cookies
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，会话: %s", sessionID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var frame chatFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			writeError(conn, "无法解析的消息格式")
			continue
		}

		// 停止指令: {"type":"stop","cmdToken":"..."}
		if frame.Type == "stop" {
			h.stopTokenLock.Lock()
			valid := frame.CmdToken != "" && frame.CmdToken == h.stopToken
			h.stopTokenLock.Unlock()
			if valid {
				h.stopFlags.Store(connKey(conn), true)
				resp := map[string]interface{}{
					"type":      "stop",
					"message":   "响应已停止",
					"timestamp": time.Now().UnixMilli(),
					"date":      time.Now().Format("2006-01-02T15:04:05"),
				}
				b, _ := json.Marshal(resp)
				_ = conn.WriteMessage(websocket.TextMessage, b)
			}
			continue
		}

		if err := validateImages(frame.Images); err != nil {
			writeError(conn, err.Error())
			continue
		}

		shouldStop := func() bool {
			v, ok := h.stopFlags.Load(connKey(conn))
			return ok && v.(bool)
		}
		// 清除上一轮的停止标志
		h.stopFlags.Delete(connKey(conn))

		err = h.chatService.StreamResponse(c.Request.Context(), sessionID, frame.Text, frame.Images, conn, shouldStop)
		if err != nil {
			if err == service.ErrEmptyInput {
				writeError(conn, err.Error())
				continue
			}
			log.Errorf("处理流式响应失败: %v", err)
			// 失败时历史保持不变，用户重新发送即可重试
			writeError(conn, "AI服务暂时不可用，请稍后重试")
			// 错误时也发送 completion 通知，方便前端复位
			resp := map[string]interface{}{
				"type":      "completion",
				"status":    "finished",
				"message":   "响应已完成",
				"timestamp": time.Now().UnixMilli(),
				"date":      time.Now().Format("2006-01-02T15:04:05"),
			}
			cb, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, cb)
			continue
		}
	}

	h.stopFlags.Delete(connKey(conn))
}

func writeError(conn *websocket.Conn, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func connKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}

// validateImages 校验图片附件必须是允许类型的 data URL。
// 尺寸超限等其他问题交由远端 API 报错，本地不做校验。
func validateImages(images []string) error {
	for _, img := range images {
		ok := false
		for _, prefix := range allowedImagePrefixes {
			if strings.HasPrefix(img, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("不支持的图片类型，仅支持 jpg/jpeg/png/webp")
		}
	}
	return nil
}
