package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"

	"github.com/google/uuid"
)

var allowedImageTypes = map[string]bool{
	"image/jpg":  true,
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

type UploadResult struct {
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
}

// UploadService stores chat images on local disk and hands out their public URLs
type UploadService struct {
	dir     string
	baseURL string
	maxSize int64
	log     *logger.Logger
}

func NewUploadService(dir, baseURL string, maxSize int64, log *logger.Logger) (*UploadService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadService{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), maxSize: maxSize, log: log}, nil
}

func (s *UploadService) Dir() string {
	return s.dir
}

func (s *UploadService) Save(_ context.Context, header *multipart.FileHeader) (*UploadResult, error) {
	if header == nil {
		return nil, apperrors.NewBadRequestError(apperrors.CodeFileUploadError, "Please upload a file")
	}
	if header.Size > s.maxSize {
		return nil, apperrors.NewBadRequestError(apperrors.CodeFileUploadError,
			fmt.Sprintf("File exceeds the %d byte limit", s.maxSize))
	}

	src, err := header.Open()
	if err != nil {
		return nil, apperrors.NewInternalServerError(apperrors.CodeFileUploadError, "Could not read upload").WithCause(err)
	}
	defer src.Close()

	sniff := make([]byte, 512)
	n, err := io.ReadFull(src, sniff)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, apperrors.NewInternalServerError(apperrors.CodeFileUploadError, "Could not read upload").WithCause(err)
	}
	contentType := http.DetectContentType(sniff[:n])
	if !allowedImageTypes[contentType] {
		return nil, apperrors.InvalidInput("Only jpg, jpeg, png, gif and webp images are supported")
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = "." + strings.TrimPrefix(contentType, "image/")
	}
	filename := fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12], ext)

	dst, err := os.Create(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, apperrors.NewInternalServerError(apperrors.CodeFileUploadError, "Could not store upload").WithCause(err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.MultiReader(bytes.NewReader(sniff[:n]), io.LimitReader(src, s.maxSize)))
	if err != nil {
		_ = os.Remove(dst.Name())
		return nil, apperrors.NewInternalServerError(apperrors.CodeFileUploadError, "Could not store upload").WithCause(err)
	}

	s.log.Info("Image uploaded", "filename", filename, "size", written, "contentType", contentType)
	return &UploadResult{
		URL:          s.baseURL + "/uploads/" + filename,
		Filename:     filename,
		OriginalName: header.Filename,
		Size:         written,
	}, nil
}
