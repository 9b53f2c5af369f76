package api

import (
	"context"
	"net/http"
	"strconv"

	"character-chat/backend/internal/memory"
	"character-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// MemoryBackend is the subset of the memory client the handlers read from
type MemoryBackend interface {
	Enabled() bool
	Retrieve(ctx context.Context, sessionKey string, characterID uint, query string) (*memory.RetrieveResult, error)
	Categories(ctx context.Context, sessionKey string, characterID uint) ([]memory.Category, error)
	Status(ctx context.Context, taskID string) (*memory.MemorizeResult, error)
}

// MemoryHandler exposes memory lookups. Failures never surface as errors; they degrade to empty results.
type MemoryHandler struct {
	mem MemoryBackend
}

func NewMemoryHandler(mem MemoryBackend) *MemoryHandler {
	return &MemoryHandler{mem: mem}
}

func (h *MemoryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/memory")
	group.GET("/status", h.Status)
	group.GET("/categories", h.Categories)
	group.GET("/retrieve", h.Retrieve)
	group.GET("/memorize/status/:taskId", h.MemorizeStatus)
}

func (h *MemoryHandler) Status(c *gin.Context) {
	msg := "Memory service is enabled"
	if !h.mem.Enabled() {
		msg = "Memory service is disabled (set MEMU_API_KEY and MEMU_ENABLED=true)"
	}
	c.JSON(http.StatusOK, gin.H{"enabled": h.mem.Enabled(), "message": msg})
}

// scope reads sessionKey and characterId from the query string
func scope(c *gin.Context) (string, uint, bool) {
	key := c.Query("sessionKey")
	id, err := strconv.ParseUint(c.Query("characterId"), 10, 64)
	if key == "" || err != nil {
		return "", 0, false
	}
	return key, uint(id), true
}

func (h *MemoryHandler) Categories(c *gin.Context) {
	empty := gin.H{"categories": []memory.Category{}}
	key, charID, ok := scope(c)
	if !ok || !h.mem.Enabled() {
		c.JSON(http.StatusOK, empty)
		return
	}
	cats, err := h.mem.Categories(c.Request.Context(), key, charID)
	if err != nil {
		logger.FromGin(c).Warn("Memory categories unavailable", "error", err.Error())
		c.JSON(http.StatusOK, empty)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

func (h *MemoryHandler) Retrieve(c *gin.Context) {
	empty := memory.RetrieveResult{Items: []memory.Item{}, Categories: []memory.Category{}}
	key, charID, ok := scope(c)
	query := c.Query("query")
	if !ok || query == "" || !h.mem.Enabled() {
		c.JSON(http.StatusOK, empty)
		return
	}
	res, err := h.mem.Retrieve(c.Request.Context(), key, charID, query)
	if err != nil {
		logger.FromGin(c).Warn("Memory retrieval failed", "error", err.Error())
		c.JSON(http.StatusOK, empty)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *MemoryHandler) MemorizeStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	unknown := memory.MemorizeResult{TaskID: taskID, Status: "unknown"}
	if !h.mem.Enabled() {
		c.JSON(http.StatusOK, unknown)
		return
	}
	res, err := h.mem.Status(c.Request.Context(), taskID)
	if err != nil {
		logger.FromGin(c).Warn("Memory status lookup failed", "taskId", taskID, "error", err.Error())
		c.JSON(http.StatusOK, unknown)
		return
	}
	c.JSON(http.StatusOK, res)
}
