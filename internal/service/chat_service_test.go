package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"career-chat-go/internal/model"
	"career-chat-go/internal/repository"
	"career-chat-go/pkg/openai"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeClient 模拟 openai.Client，按预设结果响应并记录收到的请求。
type fakeClient struct {
	result *openai.Result
	err    error
	deltas []string
	gotReq openai.Request
	calls  int
}

func (f *fakeClient) CreateResponse(_ context.Context, req openai.Request) (*openai.Result, error) {
	f.calls++
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeClient) StreamResponse(_ context.Context, req openai.Request, writer openai.MessageWriter) (*openai.Result, error) {
	f.calls++
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	for _, d := range f.deltas {
		if err := writer.WriteMessage(websocket.TextMessage, []byte(d)); err != nil {
			return nil, err
		}
	}
	return f.result, nil
}

func newService(client openai.Client) (ChatService, repository.SessionRepository) {
	repo := repository.NewSessionRepository(time.Hour)
	return NewChatService(client, repo), repo
}

func TestAsk_SuccessAppendsUserAndAssistantTurns(t *testing.T) {
	client := &fakeClient{result: &openai.Result{ID: "resp_1", Text: "study algorithms"}}
	svc, repo := newService(client)
	ctx := context.Background()

	reply, err := svc.Ask(ctx, "s1", "How do I prepare for a system-design interview?", nil)
	require.NoError(t, err)
	require.Equal(t, model.RoleAssistant, reply.Role)
	require.Equal(t, "study algorithms", reply.Content)

	history, err := repo.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, model.RoleUser, history[0].Role)
	require.Equal(t, "How do I prepare for a system-design interview?", history[0].Content)
	require.Equal(t, model.RoleAssistant, history[1].Role)
	require.Equal(t, "study algorithms", history[1].Content)

	id, err := repo.GetResponseID(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "resp_1", id)
}

func TestAsk_FailureLeavesHistoryUnchanged(t *testing.T) {
	client := &fakeClient{err: errors.New("upstream: 429")}
	svc, repo := newService(client)
	ctx := context.Background()

	require.NoError(t, repo.AppendMessages(ctx, "s1",
		model.ChatMessage{Role: model.RoleUser, Content: "earlier"},
		model.ChatMessage{Role: model.RoleAssistant, Content: "reply"},
	))

	_, err := svc.Ask(ctx, "s1", "new question", nil)
	require.Error(t, err)

	history, err := repo.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2, "failed call must not append a partial turn")

	id, err := repo.GetResponseID(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestAsk_EmptyInputNeverReachesClient(t *testing.T) {
	client := &fakeClient{result: &openai.Result{Text: "unused"}}
	svc, _ := newService(client)

	_, err := svc.Ask(context.Background(), "s1", "   ", nil)
	require.ErrorIs(t, err, ErrEmptyInput)
	require.Zero(t, client.calls)
}

func TestAsk_ThreadsPreviousResponseID(t *testing.T) {
	client := &fakeClient{result: &openai.Result{ID: "resp_2", Text: "a"}}
	svc, repo := newService(client)
	ctx := context.Background()
	require.NoError(t, repo.SetResponseID(ctx, "s1", "resp_1"))

	_, err := svc.Ask(ctx, "s1", "follow-up", nil)
	require.NoError(t, err)
	require.Equal(t, "resp_1", client.gotReq.PreviousResponseID)

	id, err := repo.GetResponseID(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "resp_2", id)
}

func TestAsk_ImagesOnlyIsValidInput(t *testing.T) {
	client := &fakeClient{result: &openai.Result{ID: "resp_1", Text: "nice picture"}}
	svc, repo := newService(client)
	ctx := context.Background()

	images := []string{"data:image/png;base64,AAAA"}
	_, err := svc.Ask(ctx, "s1", "", images)
	require.NoError(t, err)

	require.Len(t, client.gotReq.Input, 1)
	parts := client.gotReq.Input[0].Content
	require.Len(t, parts, 1)
	require.Equal(t, "input_image", parts[0].Type)
	require.Equal(t, images[0], parts[0].ImageURL)

	history, err := repo.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, images, history[0].Images)
}

func TestBuildInputParts(t *testing.T) {
	items := buildInputParts("  hello  ", []string{"data:image/png;base64,x", "data:image/webp;base64,y"})
	require.Len(t, items, 1)
	require.Equal(t, "message", items[0].Type)
	require.Equal(t, model.RoleUser, items[0].Role)
	require.Len(t, items[0].Content, 3)
	require.Equal(t, "input_text", items[0].Content[0].Type)
	require.Equal(t, "hello", items[0].Content[0].Text)
	require.Equal(t, "input_image", items[0].Content[1].Type)
	require.Equal(t, "input_image", items[0].Content[2].Type)

	require.Nil(t, buildInputParts("   ", nil))
}

// dialStreaming 建立一对测试用 WebSocket 连接，服务端执行 run 后关闭连接。
func dialStreaming(t *testing.T, run func(conn *websocket.Conn)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		run(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStreamResponse_WrapsChunksAndSendsCompletion(t *testing.T) {
	fake := &fakeClient{
		result: &openai.Result{ID: "resp_9", Text: "Go is great"},
		deltas: []string{"Go is ", "great"},
	}
	svc, repo := newService(fake)

	client := dialStreaming(t, func(conn *websocket.Conn) {
		err := svc.StreamResponse(context.Background(), "s1", "tell me about Go", nil, conn, nil)
		require.NoError(t, err)
	})

	var chunks []string
	sawCompletion := false
	for i := 0; i < 3; i++ {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &frame))
		if chunk, ok := frame["chunk"].(string); ok {
			chunks = append(chunks, chunk)
			continue
		}
		require.Equal(t, "completion", frame["type"])
		sawCompletion = true
	}
	require.Equal(t, []string{"Go is ", "great"}, chunks)
	require.True(t, sawCompletion)

	history, err := repo.GetHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "Go is great", history[1].Content)

	id, err := repo.GetResponseID(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "resp_9", id)
}

func TestStreamResponse_UpstreamFailureLeavesHistoryUnchanged(t *testing.T) {
	fake := &fakeClient{err: errors.New("upstream: 500")}
	svc, repo := newService(fake)

	client := dialStreaming(t, func(conn *websocket.Conn) {
		err := svc.StreamResponse(context.Background(), "s1", "question", nil, conn, nil)
		require.Error(t, err)
	})

	// 等待服务端回调执行完毕（连接关闭即结束）
	_, _, _ = client.ReadMessage()

	history, err := repo.GetHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestStreamResponse_StopFlagSuppressesDelivery(t *testing.T) {
	fake := &fakeClient{
		result: &openai.Result{ID: "resp_3", Text: "suppressed"},
		deltas: []string{"suppressed"},
	}
	svc, _ := newService(fake)

	client := dialStreaming(t, func(conn *websocket.Conn) {
		stopped := func() bool { return true }
		err := svc.StreamResponse(context.Background(), "s1", "question", nil, conn, stopped)
		require.NoError(t, err)
	})

	// 分块被拦截，但完成通知仍会发送
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, "completion", frame["type"])
}
