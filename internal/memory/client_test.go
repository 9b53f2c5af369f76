package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"character-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{Enabled: true, APIKey: "m0-key", BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, logger.Nop())
}

func TestUserID(t *testing.T) {
	assert.Equal(t, "abc_char_7", UserID("abc", 7))
}

func TestDisabledClient(t *testing.T) {
	c := New(Config{Enabled: true, BaseURL: "http://unused"}, logger.Nop())
	assert.False(t, c.Enabled())

	_, err := c.Retrieve(context.Background(), "k", 1, "q")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestRetrieveDecodesEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/memories/search/", r.URL.Path)
		assert.Equal(t, "Token m0-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "likes?", body["query"])
		assert.Equal(t, map[string]any{"user_id": "s1_char_2"}, body["filters"])

		_, _ = w.Write([]byte(`{"results":[{"id":"m1","memory":"likes green tea","categories":["food"]}]}`))
	})

	res, err := c.Retrieve(context.Background(), "s1", 2, "likes?")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "likes green tea", res.Items[0].Memory)
	assert.Empty(t, res.Categories)
}

func TestRetrieveDecodesBareArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"m1","memory":"a"},{"id":"m2","memory":"b"}]`))
	})

	res, err := c.Retrieve(context.Background(), "s1", 2, "q")
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
}

func TestMemorize(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/memories/", r.URL.Path)
		var body struct {
			UserID   string    `json:"user_id"`
			AgentID  string    `json:"agent_id"`
			Messages []Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s1_char_3", body.UserID)
		assert.Equal(t, "character_3", body.AgentID)
		assert.Len(t, body.Messages, 2)

		_, _ = w.Write([]byte(`[{"id":"mem-9","data":{"memory":"owns a cat"},"event":"ADD"}]`))
	})

	res, err := c.Memorize(context.Background(), "s1", 3, []Message{
		{Role: "user", Content: "I have a cat"},
		{Role: "assistant", Content: "Nice!"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mem-9", res.TaskID)
	assert.Equal(t, "owns a cat", res.Items[0].Memory)
}

func TestCategoriesAndStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/memories/":
			assert.Equal(t, "s_char_1", r.URL.Query().Get("user_id"))
			_, _ = w.Write([]byte(`[{"memory":"a","categories":["food","hobby"]},{"memory":"b","categories":["food"]}]`))
		case "/v1/memories/mem-1/":
			_, _ = w.Write([]byte(`{"id":"mem-1","memory":"plays chess"}`))
		default:
			http.NotFound(w, r)
		}
	})

	cats, err := c.Categories(context.Background(), "s", 1)
	require.NoError(t, err)
	assert.Equal(t, []Category{{Name: "food", ItemCount: 2}, {Name: "hobby", ItemCount: 1}}, cats)

	st, err := c.Status(context.Background(), "mem-1")
	require.NoError(t, err)
	assert.Equal(t, "plays chess", st.Items[0].Memory)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid token"}`))
	})

	_, err := c.Retrieve(context.Background(), "s", 1, "q")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid token")
}

func TestFormatForPrompt(t *testing.T) {
	items := make([]Item, 0, 12)
	for i := 0; i < 12; i++ {
		items = append(items, Item{Memory: "m"})
	}
	items[0].Memory = "  "

	lines := FormatForPrompt(items)
	assert.Len(t, lines, MaxPromptItems)
	assert.Equal(t, "m", lines[0])
}
