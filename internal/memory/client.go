// Package memory is a client for a Mem0-compatible long-term memory service.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"character-chat/backend/pkg/logger"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// MaxPromptItems caps how many memories are injected into a system prompt
const MaxPromptItems = 10

// ErrDisabled is returned by every call when the service is not configured
var ErrDisabled = errors.New("memory service disabled")

type Item struct {
	ID         string         `json:"id,omitempty"`
	Memory     string         `json:"memory"`
	Categories []string       `json:"categories,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	CreatedAt  string         `json:"created_at,omitempty"`
}

type Category struct {
	Name      string `json:"name"`
	ItemCount int    `json:"itemCount"`
}

type RetrieveResult struct {
	Items      []Item     `json:"items"`
	Categories []Category `json:"categories"`
}

type MemorizeResult struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Items  []Item `json:"items,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Config struct {
	Enabled  bool
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
}

// APIError carries a non-2xx response from the memory service
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("memory service returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	cfg  Config
	http *retryablehttp.Client
	log  *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Client {
	if cfg.Enabled && cfg.APIKey == "" {
		log.Warn("Memory service API key missing, memory disabled")
		cfg.Enabled = false
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	hc := retryablehttp.NewClient()
	hc.HTTPClient = cleanhttp.DefaultPooledClient()
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.RetryMax = cfg.RetryMax
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.Logger = nil

	if cfg.Enabled {
		log.Info("Memory service enabled", "baseURL", cfg.BaseURL)
	}
	return &Client{cfg: cfg, http: hc, log: log}
}

func (c *Client) Enabled() bool {
	return c.cfg.Enabled
}

// UserID scopes memories to one client identity talking to one character
func UserID(sessionKey string, characterID uint) string {
	return sessionKey + "_char_" + strconv.FormatUint(uint64(characterID), 10)
}

func agentID(characterID uint) string {
	return "character_" + strconv.FormatUint(uint64(characterID), 10)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 500)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// memoryList decodes either a bare array or a {"results": [...]} envelope
type memoryList []Item

func (l *memoryList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, (*[]Item)(l))
	}
	var envelope struct {
		Results []Item `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	*l = envelope.Results
	return nil
}

// Retrieve searches the user's memories relevant to query
func (c *Client) Retrieve(ctx context.Context, sessionKey string, characterID uint, query string) (*RetrieveResult, error) {
	body := map[string]any{
		"query":   query,
		"version": "v2",
		"filters": map[string]any{"user_id": UserID(sessionKey, characterID)},
	}

	var items memoryList
	if err := c.do(ctx, http.MethodPost, "/v2/memories/search/", nil, body, &items); err != nil {
		return nil, err
	}
	c.log.Debug("Memories retrieved", "userId", UserID(sessionKey, characterID), "count", len(items))
	return &RetrieveResult{Items: nonNil(items), Categories: []Category{}}, nil
}

// Memorize stores a conversation excerpt. The service processes it synchronously.
func (c *Client) Memorize(ctx context.Context, sessionKey string, characterID uint, messages []Message) (*MemorizeResult, error) {
	body := map[string]any{
		"user_id":  UserID(sessionKey, characterID),
		"agent_id": agentID(characterID),
		"messages": messages,
		"metadata": map[string]any{
			"session_key":  sessionKey,
			"character_id": characterID,
			"type":         "conversation",
		},
	}

	var created []struct {
		ID     string `json:"id"`
		Memory string `json:"memory"`
		Data   struct {
			Memory string `json:"memory"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/memories/", nil, body, &created); err != nil {
		return nil, err
	}

	res := &MemorizeResult{TaskID: "completed", Status: "completed"}
	for i, item := range created {
		if i == 0 && item.ID != "" {
			res.TaskID = item.ID
		}
		text := item.Data.Memory
		if text == "" {
			text = item.Memory
		}
		res.Items = append(res.Items, Item{ID: item.ID, Memory: text})
	}
	c.log.Info("Memories stored", "userId", UserID(sessionKey, characterID), "count", len(res.Items))
	return res, nil
}

// Categories tallies the category labels across the user's memories
func (c *Client) Categories(ctx context.Context, sessionKey string, characterID uint) ([]Category, error) {
	query := url.Values{
		"user_id":  {UserID(sessionKey, characterID)},
		"agent_id": {agentID(characterID)},
	}

	var items memoryList
	if err := c.do(ctx, http.MethodGet, "/v1/memories/", query, nil, &items); err != nil {
		return nil, err
	}

	counts := map[string]int{}
	var order []string
	for _, item := range items {
		for _, name := range item.Categories {
			if _, seen := counts[name]; !seen {
				order = append(order, name)
			}
			counts[name]++
		}
	}

	out := make([]Category, 0, len(order))
	for _, name := range order {
		out = append(out, Category{Name: name, ItemCount: counts[name]})
	}
	return out, nil
}

// Status looks up a stored memory by the id returned from Memorize
func (c *Client) Status(ctx context.Context, taskID string) (*MemorizeResult, error) {
	var item Item
	if err := c.do(ctx, http.MethodGet, "/v1/memories/"+url.PathEscape(taskID)+"/", nil, nil, &item); err != nil {
		return nil, err
	}
	return &MemorizeResult{TaskID: taskID, Status: "completed", Items: []Item{item}}, nil
}

// FormatForPrompt returns at most MaxPromptItems non-empty memory lines
func FormatForPrompt(items []Item) []string {
	out := make([]string, 0, MaxPromptItems)
	for _, item := range items {
		if len(out) == MaxPromptItems {
			break
		}
		if text := strings.TrimSpace(item.Memory); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func nonNil(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return items
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
