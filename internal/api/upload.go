package api

import (
	"net/http"

	"character-chat/backend/internal/service"
	apperrors "character-chat/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

type UploadHandler struct {
	uploads *service.UploadService
}

func NewUploadHandler(uploads *service.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

func (h *UploadHandler) RegisterRoutes(rg *gin.RouterGroup, guard ...gin.HandlerFunc) {
	rg.POST("/upload", append(guard, h.Upload)...)
}

func (h *UploadHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		_ = c.Error(apperrors.NewBadRequestError(apperrors.CodeFileUploadError, "No file uploaded").WithCause(err))
		return
	}
	res, err := h.uploads.Save(c.Request.Context(), header)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
