package webapi

import (
	"net/http"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/modvault/modvault/pkg/upload"
	"github.com/pkg/errors"
)

// Response is the shape of every JSON answer. Message carries the payload on success (a slot id or
// a URL) and the error text otherwise.
type Response struct {
	Success bool        `json:"success"`
	Message interface{} `json:"message"`
}

const unavailableMessage = "Upload is currently unavailable"

var userMessages = map[error]string{
	upload.ErrInsufficientStorageSpace: "There is not enough storage space left for this file",
	upload.ErrUserQuotaReached:         "You have reached your storage quota",
	upload.ErrModQuotaReached:          "This mod has reached its storage quota",
	upload.ErrInvalidResource:          "The file is not a valid zip archive",
	upload.ErrInvalidImage:             "The file is not a valid image",
	upload.ErrInvalidBackground:        "The background is not a valid image",
	upload.ErrInvalidFileType:          "Unknown file type",
	upload.ErrFileTooLarge:             "The file is too large",
	upload.ErrSlotBusy:                 "Another chunk of this upload is still being processed",
	upload.ErrModFileNotFound:          "File not found",
}

func successResponse(ctx echo.Context, message interface{}) error {
	return ctx.JSON(http.StatusOK, Response{Success: true, Message: message})
}

func errorResponse(ctx echo.Context, httpError int, msg string) error {
	return ctx.JSON(httpError, Response{Success: false, Message: msg})
}

// uploadErrorResponse turns an error from the upload service into a response, choosing status,
// message and log level from its kind.
func uploadErrorResponse(ctx echo.Context, logger log.Interface, err error) error {
	entry := logger.WithError(err).WithFields(log.Fields{
		"path":      ctx.Path(),
		"mod_id":    ctx.Param("mod_id"),
		"slot":      ctx.QueryParam("slot"),
		"remote_ip": ctx.RealIP(),
	})

	switch upload.KindOf(err) {
	case upload.KindQuota, upload.KindContent:
		entry.Debug("Upload rejected")
		return errorResponse(ctx, http.StatusUnprocessableEntity, userMessage(err, err.Error()))

	case upload.KindProtocol:
		entry.Info("Invalid upload request")
		status := http.StatusBadRequest
		if errors.Is(err, upload.ErrSlotBusy) {
			status = http.StatusConflict
		}
		return errorResponse(ctx, status, userMessage(err, "Invalid upload request"))

	case upload.KindConfiguration:
		entry.Error("Upload storage failure")
		return errorResponse(ctx, http.StatusServiceUnavailable, unavailableMessage)

	default:
		entry.Error("Unexpected upload failure")
		return errorResponse(ctx, http.StatusInternalServerError, unavailableMessage)
	}
}

func userMessage(err error, fallback string) string {
	for sentinel, msg := range userMessages {
		if errors.Is(err, sentinel) {
			return msg
		}
	}

	return fallback
}

// HTTPErrorHandler renders errors returned by middleware and echo itself in the Response shape.
func HTTPErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := http.StatusText(status)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(status)
		}
	}

	if ctx.Request().Method == http.MethodHead {
		_ = ctx.NoContent(status)
		return
	}

	_ = errorResponse(ctx, status, message)
}
