// Package validator checks incoming requests against the OpenAPI document.
package validator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	apperrors "character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

const reloadDebounce = 200 * time.Millisecond

// OpenAPIValidator validates requests against an OpenAPI document
type OpenAPIValidator struct {
	router     routers.Router
	schemaPath string
	mutex      sync.RWMutex
	log        *logger.Logger
}

func NewOpenAPIValidator(schemaPath string, log *logger.Logger) (*OpenAPIValidator, error) {
	router, err := loadRouter(schemaPath)
	if err != nil {
		return nil, err
	}
	return &OpenAPIValidator{router: router, schemaPath: schemaPath, log: log}, nil
}

func loadRouter(path string) (routers.Router, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI schema from %s: %w", path, err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}
	// servers are ignored so that routes match regardless of host
	doc.Servers = nil

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("error creating OpenAPI router: %w", err)
	}
	return router, nil
}

// ReloadSchema swaps in the document on disk; the previous one stays active on failure
func (v *OpenAPIValidator) ReloadSchema() error {
	router, err := loadRouter(v.schemaPath)
	if err != nil {
		return err
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.router = router
	return nil
}

// Watch reloads the schema whenever its file changes, until ctx ends
func (v *OpenAPIValidator) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// editors replace files on save, so the directory is watched rather than the file
	if err := watcher.Add(filepath.Dir(v.schemaPath)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(v.schemaPath)
		var timer *time.Timer

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, v.reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				v.log.Warn("OpenAPI schema watcher error", "error", err.Error())
			}
		}
	}()
	return nil
}

func (v *OpenAPIValidator) reload() {
	if err := v.ReloadSchema(); err != nil {
		v.log.Error("OpenAPI schema reload failed, keeping previous version", "error", err.Error())
		return
	}
	v.log.Info("OpenAPI schema reloaded", "path", v.schemaPath)
}

// Middleware rejects requests that violate the document. Routes it does not describe pass through.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v.mutex.RLock()
		router := v.router
		v.mutex.RUnlock()

		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				MultiError:         false,
			},
		}
		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			_ = c.Error(apperrors.InvalidInput("Request does not match the API schema").WithDetails(err.Error()).WithCause(err))
			c.Abort()
			return
		}

		c.Next()
	}
}
