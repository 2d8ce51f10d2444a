package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/hpcomplexio/mission-control/internal/hub"
	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/orchestrator"
)

// maxBodyBytes caps request bodies on every JSON endpoint.
const maxBodyBytes = 1 << 20

var (
	errInvalidJSON  = errors.New("invalid_json")
	errBodyTooLarge = errors.New("payload_too_large")
)

// Orchestrator is the slice of the agent orchestrator the handlers drive.
type Orchestrator interface {
	Spawn(ctx context.Context, p orchestrator.SpawnParams) (*orchestrator.SpawnResult, error)
	InjectEvent(ctx context.Context, p orchestrator.InjectParams) (model.Envelope, error)
	ResolveDecision(ctx context.Context, p orchestrator.ResolveParams) (*model.Decision, error)
}

// EventStream is the live side of the event hub.
type EventStream interface {
	Attach(ctx context.Context, cursor string, replay func(hub.Frame) error) (*hub.Subscriber, error)
	Detach(sub *hub.Subscriber)
}

// readBody reads a capped request body. An empty body reads as "{}".
func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("{}"), nil
	}
	return body, nil
}

// bindJSON decodes and validates the body into obj. Validation failures
// come back as validator.ValidationErrors; anything else is errInvalidJSON
// or errBodyTooLarge.
func bindJSON(c *gin.Context, obj any) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	if err := binding.JSON.BindBody(body, obj); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return verrs
		}
		return fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	return nil
}

// writeBindError answers a failed bindJSON. missing is the message used when
// required fields are absent.
func writeBindError(c *gin.Context, err error, missing string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, errBodyTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
	case errors.As(err, &verrs):
		msg := missing
		for _, fe := range verrs {
			if fe.Tag() != "required" {
				msg = "invalid_request"
				break
			}
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg, "fields": fieldNames(verrs)})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
	}
}

func fieldNames(verrs validator.ValidationErrors) []string {
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fe.Field())
	}
	return names
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
