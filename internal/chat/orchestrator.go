// Package chat composes credential resolution, prompt assembly and streaming into one chat turn.
package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"character-chat/backend/internal/llm"
	"character-chat/backend/internal/memory"
	"character-chat/backend/internal/models"
	"character-chat/backend/internal/prompt"
	"character-chat/backend/internal/service"
	apperrors "character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"
	"character-chat/backend/pkg/resilience"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const memorizeTimeout = 30 * time.Second

type Request struct {
	CharacterID uint          `json:"characterId" binding:"required"`
	Message     string        `json:"message"`
	ImageURL    string        `json:"imageUrl"`
	History     []prompt.Turn `json:"history" binding:"omitempty,dive"`
	// SessionKey only scopes memory retrieval; persistence stays explicit
	SessionKey string `json:"sessionKey"`
}

type CharacterLookup interface {
	GetCharacter(ctx context.Context, id uint) (*models.Character, error)
}

type CredentialResolver interface {
	Resolve(ctx context.Context, req llm.ResolveRequest) (llm.Credentials, error)
}

type CompletionStreamer interface {
	Stream(ctx context.Context, creds llm.Credentials, messages []*schema.Message, params llm.Params) (*llm.Stream, error)
}

type MemoryService interface {
	Enabled() bool
	Retrieve(ctx context.Context, sessionKey string, characterID uint, query string) (*memory.RetrieveResult, error)
	Memorize(ctx context.Context, sessionKey string, characterID uint, messages []memory.Message) (*memory.MemorizeResult, error)
}

type MessageStore interface {
	SaveMessage(ctx context.Context, req service.SaveMessageRequest) (*service.SaveMessageResult, error)
	GetHistory(ctx context.Context, sessionKey string) (*service.History, error)
}

type Options struct {
	// VisionModels are substrings identifying models that accept images natively
	VisionModels []string
}

// Orchestrator is the single entry point for chat turns
type Orchestrator struct {
	characters CharacterLookup
	resolver   CredentialResolver
	assembler  *prompt.Assembler
	streamer   CompletionStreamer
	memory     MemoryService
	messages   MessageStore
	opts       Options
	tracer     trace.Tracer
	log        *logger.Logger

	background sync.WaitGroup
}

func NewOrchestrator(
	characters CharacterLookup,
	resolver CredentialResolver,
	assembler *prompt.Assembler,
	streamer CompletionStreamer,
	mem MemoryService,
	messages MessageStore,
	opts Options,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		characters: characters,
		resolver:   resolver,
		assembler:  assembler,
		streamer:   streamer,
		memory:     mem,
		messages:   messages,
		opts:       opts,
		tracer:     otel.Tracer("character-chat/chat"),
		log:        log,
	}
}

// StreamChat resolves credentials, assembles the prompt and opens the provider stream.
// Every failure is returned before the first delta as an *AppError. The caller owns the stream.
func (o *Orchestrator) StreamChat(ctx context.Context, req Request) (*llm.Stream, error) {
	ctx, span := o.tracer.Start(ctx, "chat.stream", trace.WithAttributes(
		attribute.Int64("character.id", int64(req.CharacterID)),
		attribute.Bool("request.image", req.ImageURL != ""),
		attribute.Int("request.history", len(req.History)),
	))
	defer span.End()

	st, err := o.streamChat(ctx, req, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, ToAppError(err)
	}
	return st, nil
}

func (o *Orchestrator) streamChat(ctx context.Context, req Request, span trace.Span) (*llm.Stream, error) {
	if req.Message == "" && req.ImageURL == "" {
		return nil, apperrors.InvalidInput("message or imageUrl is required")
	}

	character, err := o.characters.GetCharacter(ctx, req.CharacterID)
	if err != nil {
		return nil, err
	}

	creds, err := o.resolver.Resolve(ctx, llm.ResolveRequest{PreferredModel: character.PreferredModel})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("model.id", creds.ModelID),
		attribute.String("model.source", creds.Source),
	)

	log := o.log.With("characterId", character.ID, "model", creds.ModelID, "source", creds.Source)

	assembled, err := o.assembler.Assemble(ctx, prompt.Request{
		Character:    character,
		Message:      req.Message,
		ImageURL:     req.ImageURL,
		History:      req.History,
		NativeVision: llm.SupportsVision(creds.ModelID, o.opts.VisionModels),
		Memories:     o.recall(ctx, req, log),
	})
	if err != nil {
		return nil, err
	}
	log.Info("Prompt assembled",
		"messages", len(assembled.Messages),
		"historyOriginal", assembled.HistoryOriginal,
		"historyKept", assembled.HistoryKept,
		"examples", assembled.ExampleCount,
		"imageDescribed", assembled.ImageDescribed,
	)

	// stored characters always carry a temperature, so it always overrides the model default
	params := llm.EffectiveParams(&character.Temperature, character.MaxTokens, creds)
	return o.streamer.Stream(ctx, creds, assembled.Messages, params)
}

// recall is best-effort; any failure means no memory context
func (o *Orchestrator) recall(ctx context.Context, req Request, log *logger.Logger) []string {
	if o.memory == nil || !o.memory.Enabled() || req.SessionKey == "" || req.Message == "" {
		return nil
	}
	res, err := o.memory.Retrieve(ctx, req.SessionKey, req.CharacterID, req.Message)
	if err != nil {
		log.Warn("Memory retrieval failed, continuing without memories", "error", err.Error())
		return nil
	}
	return memory.FormatForPrompt(res.Items)
}

// RecordMessage persists one turn. Assistant turns are also sent to the memory service in the background.
func (o *Orchestrator) RecordMessage(ctx context.Context, req service.SaveMessageRequest) (*service.SaveMessageResult, error) {
	res, err := o.messages.SaveMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Role == models.RoleAssistant && o.memory != nil && o.memory.Enabled() {
		o.background.Add(1)
		go func() {
			defer o.background.Done()
			o.memorize(context.WithoutCancel(ctx), req)
		}()
	}
	return res, nil
}

func (o *Orchestrator) memorize(ctx context.Context, req service.SaveMessageRequest) {
	ctx, cancel := context.WithTimeout(ctx, memorizeTimeout)
	defer cancel()
	log := o.log.WithSessionKey(req.SessionKey)

	history, err := o.messages.GetHistory(ctx, req.SessionKey)
	if err != nil {
		log.Warn("Memorize skipped, history unavailable", "error", err.Error())
		return
	}

	excerpt := lastExchange(history.Messages)
	if len(excerpt) == 0 {
		return
	}
	if _, err := o.memory.Memorize(ctx, req.SessionKey, req.CharacterID, excerpt); err != nil {
		log.Warn("Memorize failed", "error", err.Error())
	}
}

// lastExchange returns the final assistant message and the user message before it
func lastExchange(messages []service.HistoryMessage) []memory.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.RoleAssistant {
			continue
		}
		out := []memory.Message{{Role: models.RoleAssistant, Content: messages[i].Content}}
		for j := i - 1; j >= 0; j-- {
			if messages[j].Role == models.RoleUser {
				return append([]memory.Message{{Role: models.RoleUser, Content: messages[j].Content}}, out...)
			}
		}
		return out
	}
	return nil
}

// Wait blocks until background memory writes finish
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// ToAppError maps domain failures onto the HTTP error taxonomy
func ToAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var disabled *llm.ModelDisabledError
	var vision *llm.VisionUnavailableError
	var provider *llm.ProviderError
	switch {
	case errors.As(err, &disabled):
		return apperrors.NewBadRequestError(apperrors.CodeModelDisabled,
			"Model "+disabled.ModelID+" is disabled").WithCause(err)
	case errors.Is(err, llm.ErrModelUnconfigured):
		return apperrors.NewInternalServerError(apperrors.CodeModelUnconfigured,
			"No model is configured: add one under model management or set OPENAI_API_KEY").WithCause(err)
	case errors.Is(err, llm.ErrCredentialUnusable):
		return apperrors.NewInternalServerError(apperrors.CodeConfigurationError,
			"Stored model credential could not be decrypted; check ENCRYPTION_KEY").WithCause(err)
	case errors.As(err, &vision):
		return apperrors.NewInternalServerError(apperrors.CodeVisionModelUnavailable,
			"Image recognition is unavailable: "+vision.Detail).WithCause(err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return apperrors.NewError(http.StatusServiceUnavailable, apperrors.CodeLLMAPIError,
			"Model provider is temporarily unavailable, try again shortly").WithCause(err)
	case errors.As(err, &provider):
		return apperrors.NewInternalServerError(apperrors.CodeLLMAPIError, provider.Err.Error()).WithCause(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewError(499, apperrors.CodeLLMAPIError, "Request cancelled").WithCause(err)
	default:
		return apperrors.NewInternalServerError(apperrors.CodeLLMAPIError, err.Error()).WithCause(err)
	}
}
