package prompt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"character-chat/backend/internal/models"
	"character-chat/backend/pkg/logger"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDescriber struct {
	description string
	err         error
	calls       int
}

func (s *stubDescriber) DescribeImage(context.Context, string) (string, error) {
	s.calls++
	return s.description, s.err
}

func newAssembler(maxTurns int, d ImageDescriber) *Assembler {
	a := NewAssembler(maxTurns, time.UTC, d, logger.Nop())
	a.now = func() time.Time { return time.Date(2025, time.March, 7, 9, 5, 0, 0, time.UTC) }
	return a
}

func history(n int) []Turn {
	out := make([]Turn, n)
	for i := range out {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		out[i] = Turn{Role: role, Content: fmt.Sprintf("m%d", i)}
	}
	return out
}

func TestAssembleTruncatesHistory(t *testing.T) {
	a := newAssembler(2, nil)
	char := &models.Character{SystemPrompt: "You are Aria."}

	res, err := a.Assemble(context.Background(), Request{Character: char, Message: "hello", History: history(10)})
	require.NoError(t, err)

	require.Len(t, res.Messages, 6)
	assert.Equal(t, schema.System, res.Messages[0].Role)
	assert.Equal(t, []string{"m6", "m7", "m8", "m9"}, []string{
		res.Messages[1].Content, res.Messages[2].Content, res.Messages[3].Content, res.Messages[4].Content,
	})
	assert.Equal(t, schema.User, res.Messages[5].Role)
	assert.Equal(t, "hello", res.Messages[5].Content)
	assert.Equal(t, 10, res.HistoryOriginal)
	assert.Equal(t, 4, res.HistoryKept)
}

func TestWindow(t *testing.T) {
	assert.Len(t, Window(history(3), 2), 3)
	assert.Len(t, Window(history(11), 5), 10)
	assert.Equal(t, "m1", Window(history(11), 5)[0].Content)
	assert.Nil(t, Window(history(4), 0))
}

func TestAssembleSubstitutesVariables(t *testing.T) {
	a := newAssembler(10, nil)
	char := &models.Character{SystemPrompt: "Hi {{user}}, it is {{weekday}} {{date}} {{time}} ({{year}}/{{month}}/{{day}}). {{ mood }} {{datetime}}"}

	res, err := a.Assemble(context.Background(), Request{Character: char, Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Hi User, it is Friday 2025-03-07 09:05 (2025/3/7). {{ mood }} 2025-03-07 09:05:00", res.Messages[0].Content)
}

func TestAssembleExamplesPrecedeHistory(t *testing.T) {
	a := newAssembler(10, nil)
	char := &models.Character{
		SystemPrompt:     "sys",
		ExampleDialogues: `[{"user":"u1","assistant":"a1"},{"role":"user","content":"u2"},{"role":"assistant","content":"a2"}]`,
	}

	res, err := a.Assemble(context.Background(), Request{Character: char, Message: "now", History: history(2)})
	require.NoError(t, err)
	require.Len(t, res.Messages, 8)
	assert.Equal(t, 4, res.ExampleCount)
	assert.Equal(t, "u1", res.Messages[1].Content)
	assert.Equal(t, schema.Assistant, res.Messages[2].Role)
	assert.Equal(t, "a2", res.Messages[4].Content)
	assert.Equal(t, "m0", res.Messages[5].Content)
}

func TestAssembleMalformedExamplesDegrade(t *testing.T) {
	a := newAssembler(10, nil)
	for _, raw := range []string{`not json`, `[{"role":"system","content":"x"}]`, `[{"user":"only"}]`} {
		char := &models.Character{SystemPrompt: "sys", ExampleDialogues: raw}
		res, err := a.Assemble(context.Background(), Request{Character: char, Message: "hi"})
		require.NoError(t, err, raw)
		assert.Len(t, res.Messages, 2, raw)
		assert.Zero(t, res.ExampleCount)
	}
}

func TestAssembleNativeImage(t *testing.T) {
	d := &stubDescriber{}
	a := newAssembler(10, d)

	res, err := a.Assemble(context.Background(), Request{
		Character:    &models.Character{SystemPrompt: "sys"},
		Message:      "what is this?",
		ImageURL:     "https://example.com/a.png",
		NativeVision: true,
	})
	require.NoError(t, err)

	last := res.Messages[len(res.Messages)-1]
	require.Len(t, last.MultiContent, 2)
	assert.Equal(t, schema.ChatMessagePartTypeText, last.MultiContent[0].Type)
	assert.Equal(t, "https://example.com/a.png", last.MultiContent[1].ImageURL.URL)
	assert.Zero(t, d.calls)
}

func TestAssembleDescribesImageForTextModels(t *testing.T) {
	d := &stubDescriber{description: "a cat on a sofa"}
	a := newAssembler(10, d)

	res, err := a.Assemble(context.Background(), Request{
		Character: &models.Character{SystemPrompt: "sys"},
		Message:   "cute?",
		ImageURL:  "/uploads/cat.png",
		History:   []Turn{{Role: models.RoleUser, Content: "earlier", ImageURL: "/uploads/old.png"}},
	})
	require.NoError(t, err)
	assert.True(t, res.ImageDescribed)

	assert.Empty(t, res.Messages[1].MultiContent)
	assert.Equal(t, "earlier", res.Messages[1].Content)
	assert.Equal(t, "[Image content: a cat on a sofa]\n\ncute?", res.Messages[2].Content)
	assert.Equal(t, 1, d.calls)
}

func TestAssembleVisionFailureAborts(t *testing.T) {
	a := newAssembler(10, &stubDescriber{err: errors.New("vision model unavailable")})

	_, err := a.Assemble(context.Background(), Request{
		Character: &models.Character{SystemPrompt: "sys"},
		ImageURL:  "https://example.com/a.png",
	})
	assert.EqualError(t, err, "vision model unavailable")
}

func TestAssembleMemoriesInSystemPrompt(t *testing.T) {
	a := newAssembler(10, nil)
	res, err := a.Assemble(context.Background(), Request{
		Character: &models.Character{SystemPrompt: "sys"},
		Message:   "hi",
		Memories:  []string{"likes tea", "lives in Oslo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sys\n\nRelevant memories about the user:\n- likes tea\n- lives in Oslo", res.Messages[0].Content)
}
