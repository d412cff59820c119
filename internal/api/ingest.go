package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-disaster-ingest/internal/ingestion"
	"github.com/mr1hm/go-disaster-ingest/internal/mailbox"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
	"github.com/mr1hm/go-disaster-ingest/internal/parser"
)

const maxRawEmailBytes = 10 << 20

// Envelope wraps every manual trigger response.
type Envelope struct {
	Success bool                `json:"success"`
	Data    *models.BatchResult `json:"data,omitempty"`
	Error   *APIError           `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func errorEnvelope(code, message string, details any) Envelope {
	return Envelope{Error: &APIError{Code: code, Message: message, Details: details}}
}

type emailRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body" binding:"required"`
}

func (h *Handler) ingestFeed(c *gin.Context) {
	feed := c.Param("feed")
	if !h.ingest.KnownFeed(feed) {
		c.JSON(http.StatusBadRequest, errorEnvelope("UNKNOWN_FEED", fmt.Sprintf("unknown feed %q", feed), nil))
		return
	}
	res, err := h.ingest.RunFeed(c.Request.Context(), feed)
	h.respondBatch(c, res, err)
}

func (h *Handler) ingestEmail(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope("INVALID_REQUEST", "expected JSON {subject, body}", err.Error()))
		return
	}
	res, err := h.ingest.IngestEmail(c.Request.Context(), req.Subject, req.Body, time.Time{}, len(req.Subject)+len(req.Body))
	h.respondBatch(c, res, err)
}

func (h *Handler) ingestRawEmail(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRawEmailBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, errorEnvelope("INVALID_REQUEST", "email body too large", nil))
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, errorEnvelope("INVALID_REQUEST", "empty email body", nil))
		return
	}
	res, err := h.ingest.IngestMIME(c.Request.Context(), raw)
	h.respondBatch(c, res, err)
}

// respondBatch maps a pipeline result onto the envelope: 200 when clean, 207
// when some items failed, and an error status otherwise.
func (h *Handler) respondBatch(c *gin.Context, res models.BatchResult, err error) {
	switch {
	case err == nil && len(res.Errors) == 0:
		c.JSON(http.StatusOK, Envelope{Success: true, Data: &res})
	case err == nil:
		c.JSON(http.StatusMultiStatus, Envelope{
			Data: &res,
			Error: &APIError{
				Code:    "PARTIAL_FAILURE",
				Message: fmt.Sprintf("%d of %d items failed", len(res.Errors), res.Processed),
				Details: res.Errors,
			},
		})
	case errors.Is(err, ingestion.ErrUnknownFeed):
		c.JSON(http.StatusBadRequest, errorEnvelope("UNKNOWN_FEED", err.Error(), nil))
	case errors.Is(err, ingestion.ErrFetch), errors.Is(err, ingestion.ErrParse):
		c.JSON(http.StatusBadGateway, errorEnvelope("UPSTREAM_ERROR", err.Error(), nil))
	case errors.Is(err, parser.ErrEmptyEmail), errors.Is(err, mailbox.ErrMalformed):
		c.JSON(http.StatusBadRequest, errorEnvelope("INVALID_EMAIL", err.Error(), nil))
	case errors.Is(err, mailbox.ErrSenderNotAllowed):
		c.JSON(http.StatusForbidden, errorEnvelope("SENDER_NOT_ALLOWED", err.Error(), nil))
	default:
		h.internalError(c, "ingestion failed", err)
	}
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	slog.Error(msg, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, errorEnvelope("INTERNAL_ERROR", msg, nil))
}
