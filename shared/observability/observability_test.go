package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"character-chat/backend/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposeUsage(t *testing.T) {
	m, err := NewMetrics("character-chat-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	ctx := context.Background()
	m.RecordUsage(ctx, "gpt-4o-mini", llm.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14, Estimated: true})
	m.RecordCall(ctx, "gpt-4o-mini", "stream", 250*time.Millisecond, nil)
	m.RecordCall(ctx, "gpt-4o-mini", "generate", time.Second, errors.New("boom"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Contains(t, string(body), "llm_tokens_total")
	assert.Contains(t, string(body), `model="gpt-4o-mini"`)
	assert.Contains(t, string(body), `outcome="error"`)
	assert.Contains(t, string(body), "llm_call_duration_seconds")
}
