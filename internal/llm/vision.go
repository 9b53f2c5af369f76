package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"character-chat/backend/pkg/logger"

	"github.com/cloudwego/eino/schema"
)

const visionInstruction = "Describe this image in detail: the subjects, their actions and expressions, " +
	"the setting, colors, any visible text, and the overall mood. Answer in plain prose."

// UploadPathPrefix is the public path under which uploaded files are served
const UploadPathPrefix = "/uploads/"

type VisionConfig struct {
	ModelID       string
	UploadDir     string
	PublicBaseURL string
}

// VisionPreprocessor turns an image into a text description using a dedicated vision model
type VisionPreprocessor struct {
	models   ModelLookup
	vault    Decrypter
	streamer *Streamer
	cfg      VisionConfig
	log      *logger.Logger
}

func NewVisionPreprocessor(models ModelLookup, vault Decrypter, streamer *Streamer, cfg VisionConfig, log *logger.Logger) *VisionPreprocessor {
	return &VisionPreprocessor{models: models, vault: vault, streamer: streamer, cfg: cfg, log: log}
}

// DescribeImage returns a description of the image. Every failure is a *VisionUnavailableError.
func (v *VisionPreprocessor) DescribeImage(ctx context.Context, imageURL string) (string, error) {
	creds, err := v.credentials(ctx)
	if err != nil {
		return "", err
	}

	src, err := v.imageSource(imageURL)
	if err != nil {
		return "", &VisionUnavailableError{Detail: err.Error(), Err: err}
	}

	messages := []*schema.Message{{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: visionInstruction},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: src}},
		},
	}}

	out, err := v.streamer.Generate(ctx, creds, messages, EffectiveParams(nil, 0, creds))
	if err != nil {
		return "", &VisionUnavailableError{Detail: err.Error(), Err: err}
	}

	description := strings.TrimSpace(out.Content)
	if description == "" {
		description = strings.TrimSpace(out.ReasoningContent)
	}
	if description == "" {
		return "", &VisionUnavailableError{Detail: "vision model returned an empty description"}
	}

	v.log.Debug("Image described", "model", creds.ModelID, "length", len(description))
	return description, nil
}

func (v *VisionPreprocessor) credentials(ctx context.Context) (Credentials, error) {
	cfg, ok, err := v.models.Resolve(ctx, v.cfg.ModelID)
	if err != nil {
		return Credentials{}, &VisionUnavailableError{Detail: err.Error(), Err: err}
	}
	if !ok {
		return Credentials{}, &VisionUnavailableError{
			Detail: fmt.Sprintf("vision model %q is not configured; add it under model management", v.cfg.ModelID),
		}
	}
	if !cfg.IsEnabled {
		return Credentials{}, &VisionUnavailableError{
			Detail: fmt.Sprintf("vision model %q is disabled; enable it under model management", v.cfg.ModelID),
		}
	}

	apiKey, err := v.vault.Decrypt(cfg.APIKey)
	if err != nil {
		return Credentials{}, &VisionUnavailableError{Detail: "vision model credential could not be decrypted", Err: err}
	}

	return Credentials{
		ModelID:            cfg.ModelID,
		Name:               cfg.Name,
		Provider:           cfg.Provider,
		BaseURL:            cfg.BaseURL,
		APIKey:             apiKey,
		DefaultTemperature: cfg.DefaultTemperature,
		DefaultMaxTokens:   cfg.DefaultMaxTokens,
		HasDefaults:        true,
		Source:             SourceRegistry,
	}, nil
}

// imageSource inlines local uploads as data URIs and passes remote URLs through
func (v *VisionPreprocessor) imageSource(imageURL string) (string, error) {
	name, local := v.localUpload(imageURL)
	if !local {
		return imageURL, nil
	}

	data, err := os.ReadFile(filepath.Join(v.cfg.UploadDir, name))
	if err != nil {
		return "", fmt.Errorf("read uploaded image: %w", err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (v *VisionPreprocessor) localUpload(imageURL string) (string, bool) {
	if strings.HasPrefix(imageURL, "data:") {
		return "", false
	}
	u, err := url.Parse(imageURL)
	if err != nil || !strings.HasPrefix(u.Path, UploadPathPrefix) {
		return "", false
	}
	if u.Host != "" {
		base, err := url.Parse(v.cfg.PublicBaseURL)
		if err != nil || base.Host == "" || !strings.EqualFold(base.Host, u.Host) {
			return "", false
		}
	}

	name := filepath.Base(u.Path)
	if name == "." || name == "/" || name == ".." {
		return "", false
	}
	return name, true
}

// IsVisionUnavailable reports whether err came from the vision preprocessor
func IsVisionUnavailable(err error) bool {
	var target *VisionUnavailableError
	return errors.As(err, &target)
}
