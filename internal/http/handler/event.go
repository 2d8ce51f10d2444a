package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hpcomplexio/mission-control/internal/http/dto"
	"github.com/hpcomplexio/mission-control/internal/hub"
	"github.com/hpcomplexio/mission-control/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

type EventHandler struct {
	stream EventStream
	ingest service.EventIngestService
}

func NewEventHandler(stream EventStream, ingest service.EventIngestService) *EventHandler {
	return &EventHandler{stream: stream, ingest: ingest}
}

// Stream serves the event log as server-sent events: the backlog after the
// client's cursor first, then live frames and heartbeats.
func (h *EventHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	cursor := strings.TrimSpace(c.GetHeader("Last-Event-ID"))
	if cursor == "" {
		cursor = strings.TrimSpace(c.Query("lastEventId"))
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	if _, err := c.Writer.WriteString(": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	sub, err := h.stream.Attach(ctx, cursor, func(f hub.Frame) error {
		_, err := c.Writer.Write(f.Bytes())
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.ErrorContext(ctx, "failed to attach event stream", "error", err, "cursor", cursor)
		}
		return
	}
	defer h.stream.Detach(sub)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				// Dropped or hub closed; the client reconnects with its cursor.
				return
			}
			if _, err := c.Writer.Write(frame.Bytes()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key header required"})
		return
	}

	body, err := readBody(c)
	if err != nil {
		writeBindError(c, err, "")
		return
	}

	result, err := h.ingest.Ingest(ctx, key, body)
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.Is(err, service.ErrMalformedJSON):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, dto.InvalidEventResponse{Error: "invalid_event", Details: verr.Details})
		default:
			slog.ErrorContext(ctx, "failed to ingest event", "error", err)
			internalError(c)
		}
		return
	}

	c.JSON(http.StatusOK, dto.IngestEventResponse{
		EventID:  result.EventID,
		StreamID: result.StreamID,
		Accepted: result.Accepted,
		Deduped:  result.Deduped,
	})
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}
