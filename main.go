package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"

	"github.com/bitrise-io/go-artifact-upload/analytics"
	"github.com/bitrise-io/go-artifact-upload/archive"
	"github.com/bitrise-io/go-artifact-upload/export"
	"github.com/bitrise-io/go-artifact-upload/step"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.NewLogger()
	envRepo := env.NewRepository()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker, err := analytics.NewDefaultStepTracker(envRepo, logger)
	if err != nil {
		logger.Debugf("Analytics disabled: %s", err)
	}
	uploadTracker := analytics.NewUploadTracker(tracker)
	defer uploadTracker.Wait()

	uploader := step.NewArtifactUploader(
		envRepo,
		logger,
		pathutil.NewPathProvider(),
		pathutil.NewPathChecker(),
		archive.NewDependencyChecker(logger, envRepo),
		step.DefaultBackendFactory,
		export.NewExporter(command.NewFactory(envRepo)),
		uploadTracker,
	)

	config, err := uploader.ProcessConfig()
	if err != nil {
		logger.Errorf("%s", err)
		return 1
	}

	result, err := uploader.Run(ctx, config)
	if err != nil {
		logger.Errorf("%s", err)
		return 1
	}

	if err := uploader.Export(result); err != nil {
		logger.Errorf("%s", err)
		return 1
	}

	return 0
}
