// Package openai provides a client for the OpenAI Responses API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"career-chat-go/internal/config"

	"github.com/gorilla/websocket"
)

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and our interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client 定义了 Responses API 客户端的接口。
type Client interface {
	// StreamResponse 以流式方式生成回复，将文本增量逐块写入 writer。
	StreamResponse(ctx context.Context, req Request, writer MessageWriter) (*Result, error)
	// CreateResponse 以阻塞方式生成回复，返回完整文本。
	CreateResponse(ctx context.Context, req Request) (*Result, error)
}

// Part 是一条输入消息中的单个内容项（文本或图片）。
type Part struct {
	Type     string `json:"type"`                // "input_text" 或 "input_image"
	Text     string `json:"text,omitempty"`      // input_text 的正文
	ImageURL string `json:"image_url,omitempty"` // input_image 的 data URL
}

// InputItem 是 Responses API input 数组中的一条消息。
type InputItem struct {
	Type    string `json:"type"` // 固定为 "message"
	Role    string `json:"role"`
	Content []Part `json:"content"`
}

// Request 描述一次生成调用：本轮输入与上一轮响应 ID（用于多轮上下文）。
// 检索指令（file_search + vector store）由客户端根据配置自动附加。
type Request struct {
	Input              []InputItem
	PreviousResponseID string
}

// Result 是一次生成调用的结果。
type Result struct {
	ID   string // 远端响应 ID，下一轮作为 previous_response_id 传回
	Text string // 完整回复文本
}

type responsesClient struct {
	cfg          config.OpenAIConfig
	instructions string
	client       *http.Client
}

// NewClient creates a new Responses API client from the given config.
func NewClient(cfg config.OpenAIConfig, instructions string) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &responsesClient{
		cfg:          cfg,
		instructions: instructions,
		client:       &http.Client{Timeout: timeout},
	}
}

type fileSearchTool struct {
	Type           string   `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids"`
}

type responsesRequest struct {
	Model              string           `json:"model"`
	Input              []InputItem      `json:"input"`
	Instructions       string           `json:"instructions,omitempty"`
	Tools              []fileSearchTool `json:"tools,omitempty"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	Stream             bool             `json:"stream,omitempty"`
}

// responseBody 是非流式调用的响应体（只解析我们用到的字段）。
type responseBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// streamEvent 是 SSE 流中单个 data 载荷（只解析我们用到的字段）。
type streamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Response struct {
		ID    string `json:"id"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

func (c *responsesClient) buildRequest(req Request, stream bool) responsesRequest {
	body := responsesRequest{
		Model:              c.cfg.Model,
		Input:              req.Input,
		Instructions:       c.instructions,
		PreviousResponseID: req.PreviousResponseID,
		Stream:             stream,
	}
	if c.cfg.VectorStoreID != "" {
		body.Tools = []fileSearchTool{{
			Type:           "file_search",
			VectorStoreIDs: []string{c.cfg.VectorStoreID},
		}}
	}
	return body
}

func (c *responsesClient) newHTTPRequest(ctx context.Context, body responsesRequest) (*http.Request, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal responses request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/responses", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create responses request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return httpReq, nil
}

// CreateResponse 执行一次同步生成调用。
func (c *responsesClient) CreateResponse(ctx context.Context, req Request) (*Result, error) {
	httpReq, err := c.newHTTPRequest(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call responses api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("responses api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read responses body: %w", err)
	}
	var body responseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode responses body: %w", err)
	}
	if body.Error != nil {
		return nil, fmt.Errorf("responses api returned error: %s", body.Error.Message)
	}

	// 回复文本分散在 output[].content[] 的 output_text 项中，按顺序拼接
	var text strings.Builder
	for _, item := range body.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				text.WriteString(part.Text)
			}
		}
	}
	return &Result{ID: body.ID, Text: text.String()}, nil
}

// StreamResponse 执行一次流式生成调用，文本增量写入 writer，返回完整结果。
func (c *responsesClient) StreamResponse(ctx context.Context, req Request, writer MessageWriter) (*Result, error) {
	httpReq, err := c.newHTTPRequest(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call responses api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("responses api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	result := &Result{}
	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read from stream: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "" || data == "[DONE]" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "response.output_text.delta":
			if ev.Delta == "" {
				continue
			}
			full.WriteString(ev.Delta)
			if err := writer.WriteMessage(websocket.TextMessage, []byte(ev.Delta)); err != nil {
				return nil, fmt.Errorf("failed to write message to websocket: %w", err)
			}
		case "response.completed":
			result.ID = ev.Response.ID
		case "response.failed", "response.incomplete":
			msg := "generation did not complete"
			if ev.Response.Error != nil && ev.Response.Error.Message != "" {
				msg = ev.Response.Error.Message
			}
			return nil, fmt.Errorf("responses api stream failed: %s", msg)
		}
	}

	result.Text = full.String()
	return result, nil
}
