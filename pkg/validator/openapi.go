// Package validator checks incoming requests against the OpenAPI document.
package validator

import (
	"errors"
	"fmt"
	"sync"

	apperrors "persona-chat/backend/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

// OpenAPIValidator validates requests against an OpenAPI 3 document
type OpenAPIValidator struct {
	schemaPath string

	mu      sync.RWMutex
	swagger *openapi3.T
	router  routers.Router
}

// NewOpenAPIValidator loads and validates the document at schemaPath
func NewOpenAPIValidator(schemaPath string) (*OpenAPIValidator, error) {
	swagger, err := loadOpenAPISchema(openapi3.NewLoader(), func(l *openapi3.Loader) (*openapi3.T, error) {
		return l.LoadFromFile(schemaPath)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI schema from %s: %w", schemaPath, err)
	}
	return newValidator(schemaPath, swagger)
}

// NewOpenAPIValidatorFromData builds a validator from an in-memory document
func NewOpenAPIValidatorFromData(data []byte) (*OpenAPIValidator, error) {
	swagger, err := loadOpenAPISchema(openapi3.NewLoader(), func(l *openapi3.Loader) (*openapi3.T, error) {
		return l.LoadFromData(data)
	})
	if err != nil {
		return nil, err
	}
	return newValidator("", swagger)
}

func newValidator(path string, swagger *openapi3.T) (*OpenAPIValidator, error) {
	router, err := gorillamux.NewRouter(swagger)
	if err != nil {
		return nil, fmt.Errorf("error creating OpenAPI router: %w", err)
	}
	return &OpenAPIValidator{schemaPath: path, swagger: swagger, router: router}, nil
}

func loadOpenAPISchema(loader *openapi3.Loader, load func(*openapi3.Loader) (*openapi3.T, error)) (*openapi3.T, error) {
	swagger, err := load(loader)
	if err != nil {
		return nil, err
	}
	if err := swagger.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}
	return swagger, nil
}

// ReloadSchema rereads the document from disk
func (v *OpenAPIValidator) ReloadSchema() error {
	if v.schemaPath == "" {
		return errors.New("validator was not loaded from a file")
	}
	fresh, err := NewOpenAPIValidator(v.schemaPath)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.swagger = fresh.swagger
	v.router = fresh.router
	return nil
}

// Middleware rejects requests that violate the document. Paths the
// document does not describe pass through untouched.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v.mu.RLock()
		router := v.router
		v.mu.RUnlock()

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
			_ = c.Error(apperrors.Validation(describe(err)))
			c.Abort()
			return
		}

		c.Next()
	}
}

func describe(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Reason != "" {
			return "invalid request: " + reqErr.Reason
		}
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			return fmt.Sprintf("invalid request: %s", schemaErr.Reason)
		}
	}
	return "invalid request: " + err.Error()
}
