package webapi

import (
	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/modvault/modvault/pkg/moddb/stor"
	"github.com/modvault/modvault/pkg/modapi/webapi/apimiddleware"
	"github.com/modvault/modvault/pkg/upload"
)

type RouteOpts struct {
	Stors   *stor.Stors
	Service *upload.UploadService
	Log     log.Interface
}

// SetupRoutes registers the mod file routes under /api/mods/:mod_id.
func SetupRoutes(e *echo.Echo, opts RouteOpts) {
	apikeyCache := apimiddleware.NewAPIKeyCache(opts.Stors.UserStor)

	g := e.Group("/api/mods/:mod_id",
		apimiddleware.APIKeyAuth(apimiddleware.APIKeyConfig{
			Keyname:         "apikey",
			GetUserByAPIKey: apikeyCache.GetUserByAPIKey,
		}),
		apimiddleware.ModAccessAuth(apimiddleware.ModAccessConfig{
			GetModByID: opts.Stors.ModStor.GetModByID,
		}),
	)

	uploadController := NewUploadController(opts.Service, opts.Log)
	g.POST("/create-upload-slot", uploadController.CreateUploadSlot)
	g.POST("/upload-file-chunk", uploadController.UploadFileChunk)
	g.GET("/temporary-file", uploadController.TemporaryFile)
	g.DELETE("/upload-slots/:slot", uploadController.AbandonSlot)

	modFilesController := NewModFilesController(opts.Service, opts.Log)
	g.GET("/files", modFilesController.ListModFiles)
	g.POST("/files", modFilesController.SaveModFiles)
	g.GET("/files/:file_id", modFilesController.DownloadModFile)
}
