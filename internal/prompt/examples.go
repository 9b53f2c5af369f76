package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"character-chat/backend/internal/models"
)

// exampleEntry accepts both encodings stored in Character.ExampleDialogues:
// {"user": "...", "assistant": "..."} pairs and {"role": "...", "content": "..."} messages.
type exampleEntry struct {
	User      *string `json:"user"`
	Assistant *string `json:"assistant"`
	Role      string  `json:"role"`
	Content   *string `json:"content"`
}

func (e exampleEntry) turns() ([]Turn, error) {
	switch {
	case e.Role != "":
		if e.Role != models.RoleUser && e.Role != models.RoleAssistant {
			return nil, fmt.Errorf("unsupported role %q", e.Role)
		}
		if e.Content == nil {
			return nil, fmt.Errorf("%s message without content", e.Role)
		}
		return []Turn{{Role: e.Role, Content: *e.Content}}, nil
	case e.User != nil && e.Assistant != nil:
		return []Turn{
			{Role: models.RoleUser, Content: *e.User},
			{Role: models.RoleAssistant, Content: *e.Assistant},
		}, nil
	default:
		return nil, fmt.Errorf("entry is neither a user/assistant pair nor a role/content message")
	}
}

// ParseExamples decodes few-shot dialogue. An empty input yields no turns and no error.
func ParseExamples(raw string) ([]Turn, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var entries []exampleEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode example dialogues: %w", err)
	}

	out := make([]Turn, 0, len(entries)*2)
	for i, e := range entries {
		turns, err := e.turns()
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		out = append(out, turns...)
	}
	return out, nil
}

// ValidateExamples is used at the API boundary so malformed dialogue is rejected on write
func ValidateExamples(raw string) error {
	_, err := ParseExamples(raw)
	return err
}
