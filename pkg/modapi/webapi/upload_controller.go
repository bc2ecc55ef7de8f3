package webapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/modvault/modvault/pkg/modapi/webapi/apimiddleware"
	"github.com/modvault/modvault/pkg/upload"
)

// UploadController serves the chunked upload actions of a mod.
type UploadController struct {
	service *upload.UploadService
	log     log.Interface
}

func NewUploadController(service *upload.UploadService, logger log.Interface) *UploadController {
	return &UploadController{
		service: service,
		log:     clog.For(logger, "upload-controller"),
	}
}

type createUploadSlotRequest struct {
	Type string `json:"type"`
	Size int64  `json:"size"`
	Name string `json:"name"`
}

// createUploadSlotResponse tells the client how the server expects the file to be split.
type createUploadSlotResponse struct {
	Response
	ChunkSize int64 `json:"chunk_size"`
	Chunks    int   `json:"chunks"`
}

// CreateUploadSlot answers with the id of the new slot as message.
func (c *UploadController) CreateUploadSlot(ctx echo.Context) error {
	var req createUploadSlotRequest
	if err := ctx.Bind(&req); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid request body")
	}

	slot, err := c.service.CreateUploadSlot(apimiddleware.User(ctx), apimiddleware.Mod(ctx), req.Type, req.Size, req.Name)
	if err != nil {
		return uploadErrorResponse(ctx, c.log, err)
	}

	return ctx.JSON(http.StatusOK, createUploadSlotResponse{
		Response:  Response{Success: true, Message: slot.ID},
		ChunkSize: slot.ChunkSize,
		Chunks:    slot.ChunksExpected,
	})
}

// UploadFileChunk appends the multipart field "chunk" to the slot. The message is null until the
// chunk completing the upload, which answers with the temporary file URL.
func (c *UploadController) UploadFileChunk(ctx echo.Context) error {
	slotID := ctx.QueryParam("slot")
	if slotID == "" {
		return errorResponse(ctx, http.StatusBadRequest, "Slot is required")
	}

	var chunkIndex *int
	if value := ctx.QueryParam("chunk_index"); value != "" {
		index, err := strconv.Atoi(value)
		if err != nil || index < 0 {
			return errorResponse(ctx, http.StatusBadRequest, "Invalid chunk index")
		}
		chunkIndex = &index
	}

	fh, err := ctx.FormFile("chunk")
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Chunk is required")
	}

	chunk, err := fh.Open()
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Unable to read chunk")
	}
	defer chunk.Close()

	mod := apimiddleware.Mod(ctx)
	result, err := c.service.UploadChunk(ctx.Request().Context(), mod, slotID, chunkIndex, chunk)
	if err != nil {
		return uploadErrorResponse(ctx, c.log, err)
	}

	if !result.Completed {
		return successResponse(ctx, nil)
	}

	return successResponse(ctx, TemporaryFileURL(mod.ID, result.Token, result.FileType))
}

// TemporaryFile streams a completed upload. Every failure answers 404.
func (c *UploadController) TemporaryFile(ctx echo.Context) error {
	file, err := c.service.OpenTemporaryFile(apimiddleware.Mod(ctx), ctx.QueryParam("slot"), ctx.QueryParam("type"))
	if err != nil {
		c.log.WithError(err).WithField("slot", ctx.QueryParam("slot")).Debug("Temporary file not served")
		return errorResponse(ctx, http.StatusNotFound, "File not found")
	}

	ctx.Response().Header().Set(echo.HeaderContentType, file.MimeType)
	return ctx.Inline(file.Path, file.Name)
}

// AbandonSlot deletes a slot the client won't finish.
func (c *UploadController) AbandonSlot(ctx echo.Context) error {
	if err := c.service.AbandonSlot(apimiddleware.Mod(ctx), ctx.Param("slot")); err != nil {
		return uploadErrorResponse(ctx, c.log, err)
	}

	return successResponse(ctx, nil)
}

func TemporaryFileURL(modID int, slotID string, ft upload.FileType) string {
	q := url.Values{}
	q.Set("slot", slotID)
	q.Set("type", string(ft))
	return fmt.Sprintf("/api/mods/%d/temporary-file?%s", modID, q.Encode())
}
