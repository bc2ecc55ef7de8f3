package webapi

import (
	"net/http"
	"strconv"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"github.com/modvault/modvault/pkg/modapi/webapi/apimiddleware"
	"github.com/modvault/modvault/pkg/upload"
)

type ModFilesController struct {
	service *upload.UploadService
	log     log.Interface
}

func NewModFilesController(service *upload.UploadService, logger log.Interface) *ModFilesController {
	return &ModFilesController{
		service: service,
		log:     clog.For(logger, "mod-files-controller"),
	}
}

type saveModFilesRequest struct {
	Attach []upload.Attachment `json:"attach"`
	Delete []int               `json:"delete"`
}

type modFilesResponse struct {
	Success bool               `json:"success"`
	Message interface{}        `json:"message"`
	Files   []modmodel.ModFile `json:"files"`
}

func (c *ModFilesController) ListModFiles(ctx echo.Context) error {
	files, err := c.service.ListModFiles(apimiddleware.Mod(ctx))
	if err != nil {
		return uploadErrorResponse(ctx, c.log, err)
	}

	return ctx.JSON(http.StatusOK, modFilesResponse{Success: true, Files: files})
}

// SaveModFiles attaches completed uploads to the mod and deletes files from it in one save.
func (c *ModFilesController) SaveModFiles(ctx echo.Context) error {
	var req saveModFilesRequest
	if err := ctx.Bind(&req); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "Invalid request body")
	}

	files, err := c.service.SaveModFiles(apimiddleware.Mod(ctx), req.Attach, req.Delete)
	if err != nil {
		return uploadErrorResponse(ctx, c.log, err)
	}

	return ctx.JSON(http.StatusOK, modFilesResponse{Success: true, Files: files})
}

func (c *ModFilesController) DownloadModFile(ctx echo.Context) error {
	fileID, err := strconv.Atoi(ctx.Param("file_id"))
	if err != nil {
		return errorResponse(ctx, http.StatusNotFound, "File not found")
	}

	file, err := c.service.OpenModFile(apimiddleware.Mod(ctx), fileID)
	if err != nil {
		return errorResponse(ctx, http.StatusNotFound, "File not found")
	}

	if file.MimeType != "" {
		ctx.Response().Header().Set(echo.HeaderContentType, file.MimeType)
	}

	return ctx.Attachment(file.Path, file.Name)
}
