package cmd

import (
	"strconv"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/modvault/modvault/pkg/moddb/stor"
	"github.com/modvault/modvault/pkg/modapi/webapi"
	"github.com/modvault/modvault/pkg/upload"
	"gorm.io/gorm"
)

type RouteOpts struct {
	db      *gorm.DB
	service *upload.UploadService
	log     log.Interface
}

func setupRoutes(e *echo.Echo, opts RouteOpts) {
	e.HTTPErrorHandler = webapi.HTTPErrorHandler

	webapi.SetupRoutes(e, webapi.RouteOpts{
		Stors:   stor.NewGormStors(opts.db),
		Service: opts.service,
		Log:     opts.log,
	})
}

// fmtBytes formats n the way echo's BodyLimit parses sizes.
func fmtBytes(n int64) string {
	return strconv.FormatInt((n+1023)/1024, 10) + "K"
}
