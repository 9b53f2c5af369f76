package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"character-chat/backend/internal/credential"
	"character-chat/backend/internal/llm"
	"character-chat/backend/internal/memory"
	"character-chat/backend/internal/models"
	"character-chat/backend/internal/prompt"
	"character-chat/backend/internal/repository"
	"character-chat/backend/internal/service"
	"character-chat/backend/internal/testutil"
	"character-chat/backend/pkg/cache"
	apperrors "character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type scriptedModel struct {
	chunks []string
	mu     sync.Mutex
	input  []*schema.Message
}

func (m *scriptedModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("ok", nil), nil
}

func (m *scriptedModel) Stream(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	m.input = in
	m.mu.Unlock()
	msgs := make([]*schema.Message, 0, len(m.chunks))
	for _, c := range m.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

type fakeMemory struct {
	mu        sync.Mutex
	items     []memory.Item
	err       error
	memorized [][]memory.Message
}

func (f *fakeMemory) Enabled() bool { return true }

func (f *fakeMemory) Retrieve(context.Context, string, uint, string) (*memory.RetrieveResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &memory.RetrieveResult{Items: f.items}, nil
}

func (f *fakeMemory) Memorize(_ context.Context, _ string, _ uint, msgs []memory.Message) (*memory.MemorizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memorized = append(f.memorized, msgs)
	return &memory.MemorizeResult{TaskID: "t1", Status: "completed"}, nil
}

type fixture struct {
	db        *gorm.DB
	registry  *service.ModelRegistry
	model     *scriptedModel
	factories atomic.Int32
	params    llm.Params
	orch      *Orchestrator
	mem       *fakeMemory
}

func newFixture(t *testing.T, env *llm.EnvironmentStrategy) *fixture {
	t.Helper()
	f := &fixture{db: testutil.NewDB(t), model: &scriptedModel{chunks: []string{"Hel", "lo", "!"}}, mem: &fakeMemory{}}
	log := logger.Nop()

	factory := func(_ context.Context, _ llm.Credentials, params llm.Params) (model.BaseChatModel, error) {
		f.factories.Add(1)
		f.params = params
		return f.model, nil
	}
	streamer := llm.NewStreamer(factory, nil, nil, log)

	vault := credential.NewVault(credential.StaticKey(testutil.TestEncryptionKey))
	f.registry = service.NewModelRegistry(repository.NewGormModelRepository(f.db), vault,
		cache.NewMemory[models.ModelConfig](time.Minute, time.Minute), streamer, log)

	characterRepo := repository.NewGormCharacterRepository(f.db)
	store := service.NewSessionStore(repository.NewGormSessionRepository(f.db), characterRepo, log)
	characters := service.NewCharacterService(characterRepo, store, log)

	strategies := []llm.Strategy{&llm.RegistryStrategy{Models: f.registry, Vault: vault, Log: log}}
	if env != nil {
		strategies = append(strategies, env)
	}
	resolver := llm.NewResolver(log, strategies...)
	assembler := prompt.NewAssembler(2, time.UTC, nil, log)

	f.orch = NewOrchestrator(characters, resolver, assembler, streamer, f.mem, store, Options{VisionModels: []string{"gpt-4o"}}, log)
	return f
}

func collect(t *testing.T, st *llm.Stream) string {
	t.Helper()
	defer st.Close()
	var out string
	for {
		delta, err := st.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out += delta
	}
}

func TestStreamChatUnconfiguredFailsBeforeProviderCall(t *testing.T) {
	f := newFixture(t, &llm.EnvironmentStrategy{})
	char := testutil.SeedCharacter(t, f.db, func(c *models.Character) { c.PreferredModel = "not-registered" })

	_, err := f.orch.StreamChat(context.Background(), Request{CharacterID: char.ID, Message: "hi"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeModelUnconfigured))
	assert.Equal(t, 500, apperrors.GetStatusCode(err))
	assert.Zero(t, f.factories.Load())
}

func TestStreamChatFallsBackToEnvironment(t *testing.T) {
	f := newFixture(t, &llm.EnvironmentStrategy{APIKey: "sk-env", BaseURL: "https://api.openai.com/v1", Model: "deepseek-chat"})
	char := testutil.SeedCharacter(t, f.db, func(c *models.Character) { c.PreferredModel = "missing" })

	history := []prompt.Turn{
		{Role: "user", Content: "1"}, {Role: "assistant", Content: "2"},
		{Role: "user", Content: "3"}, {Role: "assistant", Content: "4"},
		{Role: "user", Content: "5"}, {Role: "assistant", Content: "6"},
	}
	st, err := f.orch.StreamChat(context.Background(), Request{CharacterID: char.ID, Message: "hi", History: history})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", collect(t, st))

	require.Len(t, f.model.input, 6)
	assert.Equal(t, "You are Luna. Talk to User.", f.model.input[0].Content)
	assert.Equal(t, "3", f.model.input[1].Content)
	assert.Equal(t, "hi", f.model.input[5].Content)
}

func TestStreamChatDisabledModel(t *testing.T) {
	f := newFixture(t, &llm.EnvironmentStrategy{APIKey: "sk-env", Model: "gpt-4o-mini"})
	disabled := false
	_, err := f.registry.Create(context.Background(), &models.CreateModelRequest{
		Name: "Off", ModelID: "off-model", Provider: "openai", APIKey: "sk-0123456789", BaseURL: "https://example.com/v1", IsEnabled: &disabled,
	})
	require.NoError(t, err)
	char := testutil.SeedCharacter(t, f.db, func(c *models.Character) { c.PreferredModel = "off-model" })

	_, err = f.orch.StreamChat(context.Background(), Request{CharacterID: char.ID, Message: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeModelDisabled))
	assert.Zero(t, f.factories.Load())
}

func TestStreamChatZeroTemperatureOverridesModelDefault(t *testing.T) {
	f := newFixture(t, nil)
	warm := 1.2
	_, err := f.registry.Create(context.Background(), &models.CreateModelRequest{
		Name: "Warm", ModelID: "warm-model", Provider: "openai", APIKey: "sk-0123456789", BaseURL: "https://example.com/v1",
		DefaultTemperature: &warm,
	})
	require.NoError(t, err)
	char := testutil.SeedCharacter(t, f.db, func(c *models.Character) {
		c.PreferredModel = "warm-model"
		c.Temperature = 0
	})

	st, err := f.orch.StreamChat(context.Background(), Request{CharacterID: char.ID, Message: "hi"})
	require.NoError(t, err)
	collect(t, st)
	assert.Equal(t, 0.0, f.params.Temperature)
	assert.Equal(t, models.DefaultMaxTokens, f.params.MaxTokens)
}

func TestStreamChatUnknownCharacter(t *testing.T) {
	f := newFixture(t, &llm.EnvironmentStrategy{APIKey: "sk-env", Model: "gpt-4o-mini"})

	_, err := f.orch.StreamChat(context.Background(), Request{CharacterID: 404, Message: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeCharacterNotFound))
}

func TestStreamChatInjectsMemories(t *testing.T) {
	f := newFixture(t, &llm.EnvironmentStrategy{APIKey: "sk-env", Model: "gpt-4o-mini"})
	f.mem.items = []memory.Item{{Memory: "has a dog named Rex"}}
	char := testutil.SeedCharacter(t, f.db)

	st, err := f.orch.StreamChat(context.Background(), Request{CharacterID: char.ID, Message: "hi", SessionKey: "s1"})
	require.NoError(t, err)
	collect(t, st)
	assert.Contains(t, f.model.input[0].Content, "- has a dog named Rex")

	f.mem.err = errors.New("memory down")
	st, err = f.orch.StreamChat(context.Background(), Request{CharacterID: char.ID, Message: "hi", SessionKey: "s1"})
	require.NoError(t, err)
	collect(t, st)
	assert.NotContains(t, f.model.input[0].Content, "Rex")
}

func TestRecordMessageMemorizesAssistantTurns(t *testing.T) {
	f := newFixture(t, nil)
	char := testutil.SeedCharacter(t, f.db)
	ctx := context.Background()

	_, err := f.orch.RecordMessage(ctx, service.SaveMessageRequest{SessionKey: "s", CharacterID: char.ID, Role: models.RoleUser, Content: "I love hiking"})
	require.NoError(t, err)
	res, err := f.orch.RecordMessage(ctx, service.SaveMessageRequest{SessionKey: "s", CharacterID: char.ID, Role: models.RoleAssistant, Content: "Where do you hike?"})
	require.NoError(t, err)
	assert.NotZero(t, res.MessageID)

	f.orch.Wait()
	require.Len(t, f.mem.memorized, 1)
	assert.Equal(t, []memory.Message{
		{Role: "user", Content: "I love hiking"},
		{Role: "assistant", Content: "Where do you hike?"},
	}, f.mem.memorized[0])
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{&llm.ModelDisabledError{ModelID: "m"}, apperrors.CodeModelDisabled, 400},
		{llm.ErrModelUnconfigured, apperrors.CodeModelUnconfigured, 500},
		{&llm.VisionUnavailableError{Detail: "provider 502"}, apperrors.CodeVisionModelUnavailable, 500},
		{&llm.ProviderError{ModelID: "m", Err: errors.New("quota exceeded")}, apperrors.CodeLLMAPIError, 500},
		{fmt.Errorf("%w: model m: bad hex", llm.ErrCredentialUnusable), apperrors.CodeConfigurationError, 500},
		{errors.New("credential: " + llm.ErrCredentialUnusable.Error()), apperrors.CodeLLMAPIError, 500},
	}
	for _, tc := range cases {
		appErr := ToAppError(tc.err)
		assert.Equal(t, tc.code, appErr.Code, tc.err.Error())
		assert.Equal(t, tc.status, appErr.StatusCode)
	}
	assert.Equal(t, "quota exceeded", ToAppError(&llm.ProviderError{Err: errors.New("quota exceeded")}).Message)
	assert.Contains(t, ToAppError(&llm.VisionUnavailableError{Detail: "provider 502"}).Message, "provider 502")
}
