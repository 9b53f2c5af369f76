package router

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"character-chat/backend/internal/llm"
	"character-chat/backend/internal/testutil"
	"character-chat/backend/pkg/config"
	"character-chat/backend/pkg/di"
	"character-chat/backend/pkg/logger"
	"character-chat/backend/pkg/secrets"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSecrets map[string]string

func (m mapSecrets) GetSecret(_ context.Context, key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", secrets.ErrSecretNotFound
}

func (m mapSecrets) GetSecretWithDefault(ctx context.Context, key, def string) string {
	if v, err := m.GetSecret(ctx, key); err == nil {
		return v
	}
	return def
}

type echoModel struct{}

func (echoModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("pong", nil), nil
}

func (echoModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("Hel", nil),
		schema.AssistantMessage("lo", nil),
	}), nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("UPLOAD_DIR", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("MEMU_ENABLED", "false")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:5173")
	t.Setenv("RATE_LIMIT", "1000")
	t.Setenv("RATE_LIMIT_BURST", "1000")

	cfg := config.Load()
	container, err := di.New(cfg, testutil.NewDB(t), logger.Nop(), di.Options{
		Factory: func(context.Context, llm.Credentials, llm.Params) (model.BaseChatModel, error) {
			return echoModel{}, nil
		},
		Secrets: mapSecrets{secrets.KeyEncryptionKey: testutil.TestEncryptionKey},
	})
	require.NoError(t, err)
	container.Health.RunChecks(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	r := New(container)
	r.SetupRoutes(ctx)

	srv := httptest.NewServer(r.Engine)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		container.Close(context.Background())
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func sseEvents(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	var events []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func createCharacter(t *testing.T, srv *httptest.Server) uint {
	resp := do(t, srv, http.MethodPost, "/characters", `{"name":"Luna","systemPrompt":"You are Luna."}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var c struct {
		ID uint `json:"id"`
	}
	decode(t, resp, &c)
	return c.ID
}

func TestChatStreamEndToEnd(t *testing.T) {
	srv := newServer(t)
	charID := createCharacter(t, srv)

	resp := do(t, srv, http.MethodPost, "/models",
		`{"name":"Mini","modelId":"gpt-4o-mini","provider":"openai","apiKey":"sk-1234567890","baseURL":"https://api.openai.com/v1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var dto map[string]any
	decode(t, resp, &dto)
	assert.NotContains(t, dto["apiKeyMasked"], "1234567")

	resp = do(t, srv, http.MethodPost, "/chat/stream", fmt.Sprintf(`{"characterId":%d,"message":"hi"}`, charID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := sseEvents(t, resp)
	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0]["content"])
	assert.Equal(t, "lo", events[1]["content"])
	assert.Equal(t, true, events[2]["done"])
}

func TestChatStreamUnconfiguredEmitsSingleErrorEvent(t *testing.T) {
	srv := newServer(t)
	charID := createCharacter(t, srv)

	resp := do(t, srv, http.MethodPost, "/chat/stream", fmt.Sprintf(`{"characterId":%d,"message":"hi"}`, charID))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	events := sseEvents(t, resp)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0]["error"])
}

func TestSessionRoutes(t *testing.T) {
	srv := newServer(t)
	charID := createCharacter(t, srv)

	for _, role := range []string{"user", "assistant"} {
		resp := do(t, srv, http.MethodPost, "/chat/messages",
			fmt.Sprintf(`{"sessionKey":"s-1","characterId":%d,"role":"%s","content":"%s says hi"}`, charID, role, role))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := do(t, srv, http.MethodGet, "/chat/sessions/s-1/messages", "")
	var history struct {
		Messages []map[string]any `json:"messages"`
	}
	decode(t, resp, &history)
	assert.Len(t, history.Messages, 2)

	resp = do(t, srv, http.MethodGet, "/chat/sessions/s-1/export", "")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "session-s-1.json")

	resp = do(t, srv, http.MethodDelete, fmt.Sprintf("/characters/%d", charID), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errBody struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, resp, &errBody)
	assert.Equal(t, "4003", errBody.Error.Code)

	resp = do(t, srv, http.MethodDelete, "/chat/sessions/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/chat/sessions/s-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatModelsIncludesEnabledOnly(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodGet, "/chat/models", "")
	var body struct {
		Models []map[string]any `json:"models"`
	}
	decode(t, resp, &body)
	assert.Empty(t, body.Models)
}

func TestOperationalRoutes(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/memory/status", "")
	var status map[string]any
	decode(t, resp, &status)
	assert.Equal(t, false, status["enabled"])

	resp = do(t, srv, http.MethodGet, "/memory/retrieve?sessionKey=s&characterId=1&query=q", "")
	var retrieved map[string]any
	decode(t, resp, &retrieved)
	assert.Empty(t, retrieved["items"])

	resp = do(t, srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	srv := newServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/characters", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodOptions, srv.URL+"/characters", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp2, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestChatWebSocket(t *testing.T) {
	srv := newServer(t)
	charID := createCharacter(t, srv)
	resp := do(t, srv, http.MethodPost, "/models",
		`{"name":"Mini","modelId":"gpt-4o-mini","provider":"openai","apiKey":"sk-1234567890","baseURL":"https://api.openai.com/v1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	header := http.Header{"Origin": {"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/chat/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"characterId": charID, "message": "hi"}))

	var got []map[string]any
	for {
		var ev map[string]any
		require.NoError(t, conn.ReadJSON(&ev))
		got = append(got, ev)
		if ev["done"] == true || ev["error"] != nil {
			break
		}
	}
	require.Len(t, got, 3)
	assert.Equal(t, "Hel", got[0]["content"])

	require.NoError(t, conn.WriteJSON(map[string]any{"message": "no character"}))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "characterId is required", ev["error"])
}
