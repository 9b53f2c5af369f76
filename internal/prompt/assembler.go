// Package prompt builds the provider message sequence for a chat turn.
package prompt

import (
	"context"
	"strings"
	"time"

	"character-chat/backend/internal/models"
	"character-chat/backend/pkg/logger"

	"github.com/cloudwego/eino/schema"
)

// Turn is one prior message supplied by the client
type Turn struct {
	Role     string `json:"role" binding:"required,oneof=user assistant"`
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// ImageDescriber produces a text stand-in for an image
type ImageDescriber interface {
	DescribeImage(ctx context.Context, imageURL string) (string, error)
}

type Request struct {
	Character *models.Character
	Message   string
	ImageURL  string
	History   []Turn
	// NativeVision is true when the target model accepts image parts directly
	NativeVision bool
	// Memories are appended to the system prompt as a bullet list
	Memories []string
}

type Result struct {
	Messages        []*schema.Message
	HistoryOriginal int
	HistoryKept     int
	ExampleCount    int
	ImageDescribed  bool
}

type Assembler struct {
	maxHistoryTurns int
	location        *time.Location
	now             func() time.Time
	describer       ImageDescriber
	log             *logger.Logger
}

func NewAssembler(maxHistoryTurns int, location *time.Location, describer ImageDescriber, log *logger.Logger) *Assembler {
	if location == nil {
		location = time.UTC
	}
	return &Assembler{
		maxHistoryTurns: maxHistoryTurns,
		location:        location,
		now:             time.Now,
		describer:       describer,
		log:             log,
	}
}

// Assemble returns system prompt, few-shot examples, windowed history and the current turn, in that order
func (a *Assembler) Assemble(ctx context.Context, req Request) (Result, error) {
	var res Result

	system := Substitute(req.Character.SystemPrompt, Variables(a.now().In(a.location)))
	if len(req.Memories) > 0 {
		system += "\n\nRelevant memories about the user:\n- " + strings.Join(req.Memories, "\n- ")
	}
	res.Messages = append(res.Messages, schema.SystemMessage(system))

	examples, err := ParseExamples(req.Character.ExampleDialogues)
	if err != nil {
		a.log.Warn("Ignoring malformed example dialogues",
			"characterId", req.Character.ID,
			"error", err.Error(),
		)
		examples = nil
	}
	for _, t := range examples {
		res.Messages = append(res.Messages, textMessage(t.Role, t.Content))
	}
	res.ExampleCount = len(examples)

	history := Window(req.History, a.maxHistoryTurns)
	res.HistoryOriginal = len(req.History)
	res.HistoryKept = len(history)
	if res.HistoryKept < res.HistoryOriginal {
		a.log.Debug("History truncated",
			"original", res.HistoryOriginal,
			"kept", res.HistoryKept,
			"maxTurns", a.maxHistoryTurns,
		)
	}
	for _, t := range history {
		if t.ImageURL != "" && req.NativeVision && t.Role == models.RoleUser {
			res.Messages = append(res.Messages, multimodalMessage(t.Content, t.ImageURL))
			continue
		}
		res.Messages = append(res.Messages, textMessage(t.Role, t.Content))
	}

	current, described, err := a.currentTurn(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res.ImageDescribed = described
	res.Messages = append(res.Messages, current)
	return res, nil
}

func (a *Assembler) currentTurn(ctx context.Context, req Request) (*schema.Message, bool, error) {
	if req.ImageURL == "" {
		return schema.UserMessage(req.Message), false, nil
	}
	if req.NativeVision {
		return multimodalMessage(req.Message, req.ImageURL), false, nil
	}

	description, err := a.describer.DescribeImage(ctx, req.ImageURL)
	if err != nil {
		return nil, false, err
	}
	content := "[Image content: " + description + "]"
	if req.Message != "" {
		content += "\n\n" + req.Message
	}
	return schema.UserMessage(content), true, nil
}

// Window keeps the last maxTurns*2 entries in their original order
func Window(history []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 {
		return nil
	}
	keep := maxTurns * 2
	if len(history) <= keep {
		return history
	}
	return history[len(history)-keep:]
}

func textMessage(role, content string) *schema.Message {
	if role == models.RoleAssistant {
		return schema.AssistantMessage(content, nil)
	}
	return schema.UserMessage(content)
}

func multimodalMessage(text, imageURL string) *schema.Message {
	parts := make([]schema.ChatMessagePart, 0, 2)
	if text != "" {
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: text})
	}
	parts = append(parts, schema.ChatMessagePart{
		Type:     schema.ChatMessagePartTypeImageURL,
		ImageURL: &schema.ChatMessageImageURL{URL: imageURL},
	})
	return &schema.Message{Role: schema.User, MultiContent: parts}
}
