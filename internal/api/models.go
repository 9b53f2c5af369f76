package api

import (
	"net/http"

	"character-chat/backend/internal/models"
	"character-chat/backend/internal/service"

	"github.com/gin-gonic/gin"
)

type ModelHandler struct {
	registry *service.ModelRegistry
}

func NewModelHandler(registry *service.ModelRegistry) *ModelHandler {
	return &ModelHandler{registry: registry}
}

func (h *ModelHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/models")
	group.GET("", h.List)
	group.GET("/enabled", h.ListEnabled)
	group.GET("/:id", h.Get)
	group.POST("", h.Create)
	group.PUT("/:id", h.Update)
	group.DELETE("/:id", h.Delete)
	group.POST("/:id/test", h.Test)
}

func (h *ModelHandler) List(c *gin.Context) {
	list, err := h.registry.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ModelHandler) ListEnabled(c *gin.Context) {
	list, err := h.registry.ListEnabled(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *ModelHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	dto, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (h *ModelHandler) Create(c *gin.Context) {
	var req models.CreateModelRequest
	if !bind(c, &req) {
		return
	}
	dto, err := h.registry.Create(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, dto)
}

func (h *ModelHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req models.UpdateModelRequest
	if !bind(c, &req) {
		return
	}
	dto, err := h.registry.Update(c.Request.Context(), id, &req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (h *ModelHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.registry.Delete(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Test sends a tiny prompt to the model; provider failures are reported in the body, not the status
func (h *ModelHandler) Test(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	res, err := h.registry.TestConnection(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
