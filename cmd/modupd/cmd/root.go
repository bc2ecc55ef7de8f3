/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/modvault/modvault/pkg/config"
	"github.com/modvault/modvault/pkg/moddb"
	"github.com/modvault/modvault/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	logLevel   string
	createDirs bool
	migrate    bool
)

var rootCmd = &cobra.Command{
	Use:   "modupd",
	Short: "Run the mod upload API server",
	Long:  `Run the mod upload API server. Configuration comes from the dotenv file named by MODUPD_DOTENV_PATH or from --config.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := Run(cmd.Context()); err != nil {
			log.Fatalf("modupd: %s", err)
		}
	},
}

// setup loads configuration, creates the logger and resolves the storage options shared by all
// subcommands.
func setup() (config.Configer, *log.Logger, *upload.StorageOptions) {
	var c config.Configer
	if cfgFile != "" {
		c = config.MustLoadFromFile(cfgFile)
	} else {
		c = config.MustLoadFromDotenv()
	}

	level := logLevel
	if level == "" {
		level = c.GetKeyWithDefault("MODUPD_LOG_LEVEL", "info")
	}

	logger, err := clog.NewFromLevelString(os.Stderr, level)
	if err != nil {
		log.Fatalf("Invalid log level %q: %s", level, err)
	}

	opts, err := upload.LoadStorageOptions(c)
	if err != nil {
		logger.Fatalf("Invalid storage configuration: %s", err)
	}

	if createDirs {
		if err := opts.CreateDirs(); err != nil {
			logger.Fatalf("Unable to create storage directories: %s", err)
		}
	}

	if err := opts.Validate(); err != nil {
		logger.Fatalf("Invalid storage configuration: %s", err)
	}

	return c, logger, opts
}

func Run(ctx context.Context) error {
	c, logger, opts := setup()
	logger.Infof("Storage: %s", opts)

	db := moddb.MustConnectToDB(c)
	if migrate {
		if err := moddb.RunMigrations(db); err != nil {
			return err
		}
	}

	service := upload.NewUploadService(opts, db, upload.StatfsDiskSpacer{}, logger)

	janitor := upload.NewJanitor(opts, service.Slots(), logger)
	sweepInterval := time.Duration(c.GetIntKeyWithDefault("MODS_SWEEP_INTERVAL_MINUTES", 60)) * time.Minute
	if err := janitor.Start(sweepInterval); err != nil {
		return err
	}
	defer func() {
		if err := janitor.Stop(); err != nil {
			logger.WithError(err).Warn("Janitor did not stop cleanly")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit(opts)))

	setupRoutes(e, RouteOpts{
		db:      db,
		service: service,
		log:     logger,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := ":" + c.GetKeyWithDefault("MODUPD_PORT", "1360")
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := e.Start(addr); err != nil {
			logger.WithError(err).Info("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// bodyLimit leaves room for the multipart framing around a chunk.
func bodyLimit(opts *upload.StorageOptions) string {
	return fmtBytes(opts.ChunkSize + 64*1024)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml) to use instead of the dotenv file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&createDirs, "create-dirs", false, "create missing storage directories")
	rootCmd.Flags().BoolVar(&migrate, "migrate", false, "run database migrations before serving")
}
