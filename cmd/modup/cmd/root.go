/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/docker/go-units"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/modvault/modvault/pkg/uploadclient"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	apikey    string
	attach    bool
	retries   int
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "modup <mod-id> <resource|image|background> <file>...",
	Short: "Upload files to a mod",
	Long:  `Upload files to a mod in chunks. With --attach the uploaded files are added to the mod once all uploads finished.`,
	Args:  cobra.MinimumNArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		if err := run(cmd.Context(), args); err != nil {
			fmt.Fprintf(os.Stderr, "modup: %s\n", err)
			os.Exit(1)
		}
	},
}

func run(ctx context.Context, args []string) error {
	modID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid mod id %q", args[0])
	}
	fileType := args[1]

	if apikey == "" {
		apikey = os.Getenv("MODUP_APIKEY")
	}

	logger, err := clog.NewFromLevelString(os.Stderr, logLevel)
	if err != nil {
		return err
	}

	var files []uploadclient.FileSpec
	for _, path := range args[2:] {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		finfo, err := f.Stat()
		if err != nil {
			return err
		}

		files = append(files, uploadclient.FileSpec{
			Type:   fileType,
			Name:   filepath.Base(path),
			Reader: f,
			Size:   finfo.Size(),
		})
	}

	client := uploadclient.NewClient(serverURL, apikey, logger)
	upload := client.NewMultiUpload(modID, files, uploadclient.Options{
		MaxRetries: retries,
		RetryDelay: time.Second,
		Jitter:     500 * time.Millisecond,
		OnProgress: func(uploaded, total int64) {
			fmt.Fprintf(os.Stderr, "\r%s / %s (%.0f%%)", units.BytesSize(float64(uploaded)),
				units.BytesSize(float64(total)), 100*float64(uploaded)/float64(total))
			if uploaded == total {
				fmt.Fprintln(os.Stderr)
			}
		},
		OnRetryExceeded: func(chunk int, err error) {
			logger.WithError(err).WithField("chunk", chunk).Error("Upload stalled")
		},
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		upload.Abort()
	}()

	if err := upload.Start(ctx); err != nil {
		return err
	}

	for _, u := range upload.Uploads() {
		fmt.Printf("%s\t%s\n", u.SlotID(), u.TemporaryURL())
	}

	if !attach {
		return nil
	}

	modFiles, err := client.SaveModFiles(ctx, modID, upload.Attachments(), nil)
	if err != nil {
		return err
	}

	for _, mf := range modFiles {
		logger.WithFields(log.Fields{"id": mf.ID, "type": mf.Type, "name": mf.Name, "size": mf.Size}).Info("Mod file")
	}

	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "http://localhost:1360", "modupd base URL")
	rootCmd.Flags().StringVar(&apikey, "apikey", "", "api key (default $MODUP_APIKEY)")
	rootCmd.Flags().BoolVar(&attach, "attach", false, "attach the uploaded files to the mod")
	rootCmd.Flags().IntVar(&retries, "retries", uploadclient.DefaultMaxRetries, "retries per chunk")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
}
