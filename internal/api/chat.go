package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"character-chat/backend/internal/chat"
	"character-chat/backend/internal/llm"
	"character-chat/backend/internal/models"
	"character-chat/backend/internal/service"
	apperrors "character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// StreamTracker observes open chat streams
type StreamTracker interface {
	StreamOpened(ctx context.Context)
	StreamClosed(ctx context.Context)
}

// ModelCatalog lists models selectable in the chat UI
type ModelCatalog interface {
	ListEnabled(ctx context.Context) ([]models.ModelDto, error)
}

// FallbackModel reports the process-level default model, if any
type FallbackModel interface {
	Fallback(ctx context.Context) (llm.Credentials, bool)
}

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 512 * 1024
)

// streamEvent is the payload of every SSE data line and WebSocket frame
type streamEvent struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ChatHandler struct {
	orch     *chat.Orchestrator
	sessions *service.SessionStore
	catalog  ModelCatalog
	fallback FallbackModel
	tracker  StreamTracker
	upgrader websocket.Upgrader
}

func NewChatHandler(orch *chat.Orchestrator, sessions *service.SessionStore, catalog ModelCatalog, fallback FallbackModel, tracker StreamTracker, allowedOrigins []string) *ChatHandler {
	return &ChatHandler{
		orch:     orch,
		sessions: sessions,
		catalog:  catalog,
		fallback: fallback,
		tracker:  tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// RegisterRoutes mounts chat and session routes. streamGuard wraps the streaming endpoints.
func (h *ChatHandler) RegisterRoutes(rg *gin.RouterGroup, streamGuard ...gin.HandlerFunc) {
	group := rg.Group("/chat")
	group.POST("/stream", append(streamGuard, h.Stream)...)
	group.GET("/ws", append(streamGuard, h.WebSocket)...)
	group.GET("/models", h.Models)
	group.POST("/messages", h.SaveMessage)

	sessions := group.Group("/sessions")
	sessions.GET("", h.ListSessions)
	sessions.GET("/:sessionKey/messages", h.History)
	sessions.GET("/:sessionKey/export", h.Export)
	sessions.DELETE("/character/:characterId", h.DeleteCharacterHistory)
	sessions.DELETE("/:sessionKey", h.DeleteSession)
}

func (h *ChatHandler) trackStream(ctx context.Context) func() {
	if h.tracker == nil {
		return func() {}
	}
	h.tracker.StreamOpened(ctx)
	return func() { h.tracker.StreamClosed(ctx) }
}

func writeSSE(w gin.ResponseWriter, ev streamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// Stream relays a completion as Server-Sent Events
func (h *ChatHandler) Stream(c *gin.Context) {
	var req chat.Request
	if !bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	log := logger.FromGin(c).With("characterId", req.CharacterID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	st, err := h.orch.StreamChat(ctx, req)
	if err != nil {
		appErr := chat.ToAppError(err)
		_ = c.Error(appErr)
		c.Status(appErr.StatusCode)
		_ = writeSSE(c.Writer, streamEvent{Error: appErr.Message})
		return
	}
	defer st.Close()
	defer h.trackStream(ctx)()

	c.Status(http.StatusOK)
	c.Writer.Flush()

	for {
		delta, err := st.Next()
		if errors.Is(err, io.EOF) {
			_ = writeSSE(c.Writer, streamEvent{Done: true})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Client disconnected mid-stream", "received", len(st.Content()))
				return
			}
			appErr := chat.ToAppError(err)
			_ = c.Error(appErr)
			_ = writeSSE(c.Writer, streamEvent{Error: appErr.Message})
			return
		}
		if err := writeSSE(c.Writer, streamEvent{Content: delta}); err != nil {
			log.Info("Stream write failed, stopping", "error", err.Error())
			return
		}
	}
}

// WebSocket accepts chat requests as JSON frames and answers with stream events
func (h *ChatHandler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromGin(c).Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := logger.FromGin(c)

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go keepAlive(ctx, conn)

	for {
		var req chat.Request
		// pongs are only processed while reading, so a long stream must not eat the idle budget
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("WebSocket read ended", "error", err.Error())
			}
			return
		}
		if req.CharacterID == 0 {
			_ = conn.WriteJSON(streamEvent{Error: "characterId is required"})
			continue
		}
		if !h.streamOverSocket(ctx, conn, req, log) {
			return
		}
	}
}

// keepAlive pings the peer until ctx ends; control frames may be written concurrently with data frames
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// streamOverSocket returns false once the connection is unusable
func (h *ChatHandler) streamOverSocket(ctx context.Context, conn *websocket.Conn, req chat.Request, log *logger.Logger) bool {
	st, err := h.orch.StreamChat(ctx, req)
	if err != nil {
		appErr := chat.ToAppError(err)
		log.Warn("Chat request failed", "code", appErr.Code, "message", appErr.Message)
		return conn.WriteJSON(streamEvent{Error: appErr.Message}) == nil
	}
	defer st.Close()
	defer h.trackStream(ctx)()

	for {
		delta, err := st.Next()
		if errors.Is(err, io.EOF) {
			return conn.WriteJSON(streamEvent{Done: true}) == nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			return conn.WriteJSON(streamEvent{Error: chat.ToAppError(err).Message}) == nil
		}
		if err := conn.WriteJSON(streamEvent{Content: delta}); err != nil {
			log.Info("WebSocket write failed, stopping stream", "error", err.Error())
			return false
		}
	}
}

type chatModel struct {
	ModelID  string `json:"modelId"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Source   string `json:"source"`
}

// Models lists enabled registry models plus the environment default
func (h *ChatHandler) Models(c *gin.Context) {
	ctx := c.Request.Context()
	enabled, err := h.catalog.ListEnabled(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}

	out := make([]chatModel, 0, len(enabled)+1)
	seen := map[string]bool{}
	for _, m := range enabled {
		seen[m.ModelID] = true
		out = append(out, chatModel{ModelID: m.ModelID, Name: m.Name, Provider: m.Provider, Source: llm.SourceRegistry})
	}
	if creds, ok := h.fallback.Fallback(ctx); ok && !seen[creds.ModelID] {
		out = append(out, chatModel{ModelID: creds.ModelID, Name: creds.Name, Provider: creds.Provider, Source: llm.SourceEnvironment})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

func (h *ChatHandler) SaveMessage(c *gin.Context) {
	var req service.SaveMessageRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.orch.RecordMessage(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *ChatHandler) History(c *gin.Context) {
	history, err := h.sessions.GetHistory(c.Request.Context(), c.Param("sessionKey"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *ChatHandler) Export(c *gin.Context) {
	key := c.Param("sessionKey")
	history, err := h.sessions.ExportSession(c.Request.Context(), key)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="session-%s.json"`, url.PathEscape(key)))
	c.JSON(http.StatusOK, history)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	var characterID *uint
	if raw := c.Query("characterId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			_ = c.Error(apperrors.InvalidInput("Invalid characterId"))
			return
		}
		v := uint(id)
		characterID = &v
	}

	page, err := h.sessions.ListSessions(c.Request.Context(), characterID, queryInt(c, "page", 1), queryInt(c, "limit", service.DefaultPageSize))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ChatHandler) DeleteCharacterHistory(c *gin.Context) {
	id, ok := paramID(c, "characterId")
	if !ok {
		return
	}
	res, err := h.sessions.DeleteCharacterHistory(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	key := c.Param("sessionKey")
	deleted, found, err := h.sessions.DeleteSession(c.Request.Context(), key)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !found {
		_ = c.Error(apperrors.SessionNotFound(key))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deletedMessages": deleted})
}
