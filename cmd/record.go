// -- cmd/record.go --
package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-recorder/internal/artifact"
	"github.com/xkilldash9x/scalpel-recorder/internal/browser"
	"github.com/xkilldash9x/scalpel-recorder/internal/browser/shim"
	"github.com/xkilldash9x/scalpel-recorder/internal/codegen"
	"github.com/xkilldash9x/scalpel-recorder/internal/config"
	"github.com/xkilldash9x/scalpel-recorder/internal/recorder"
	"github.com/xkilldash9x/scalpel-recorder/internal/reporting"
)

// Function variables for dependency injection in tests.
var (
	launchBrowser = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (recordingBrowser, error) {
		return browser.Launch(ctx, cfg, logger)
	}
	appFs        afero.Fs = afero.NewOsFs()
	openLiveView          = func() *recorder.LiveView { return recorder.NewLiveView(os.Stderr) }
)

// recordingBrowser is a session browser that can be shut down.
type recordingBrowser interface {
	recorder.Browser
	Close(ctx context.Context) error
}

// recordingComponents holds the services of one recording.
type recordingComponents struct {
	Browser recordingBrowser
	Session *recorder.Session
}

// Shutdown closes the browser.
func (rc *recordingComponents) Shutdown(logger *zap.Logger) {
	if rc.Browser == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := rc.Browser.Close(shutdownCtx); err != nil {
		logger.Warn("Error during browser shutdown.", zap.Error(err))
	}
}

// initializeRecordingComponents handles dependency injection. Configuration
// problems are returned as ConfigError before the browser is started.
func initializeRecordingComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, live *recorder.LiveView) (*recordingComponents, error) {
	rc := cfg.Recorder()

	synth, err := codegen.ForLanguage(rc.Language)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	bundle, err := shim.LoadBundle(appFs, rc.Bundle.CorePath, rc.Bundle.RecorderPath)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	sink, err := artifact.NewFileSink(appFs, rc.OutputDir, rc.OutputFile, logger)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	reporter := reporting.New(cfg.Reporting(), nil, logger)

	components := &recordingComponents{}
	components.Browser, err = launchBrowser(ctx, cfg.Browser(), logger)
	if err != nil {
		return nil, err
	}

	components.Session, err = recorder.New(recorder.Deps{
		Browser:     components.Browser,
		Synthesizer: synth,
		Sink:        sink,
		Reporter:    reporter,
		Bundle:      bundle,
		Config:      rc,
		Out:         out,
		Live:        live,
		Logger:      logger,
	})
	if err != nil {
		return components, err
	}

	logger.Info("Recording to file.", zap.String("path", sink.Path()), zap.String("language", rc.Language))
	return components, nil
}

// runRecording records until the browser closes or ctx is cancelled.
func runRecording(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, live *recorder.LiveView) error {
	components, err := initializeRecordingComponents(ctx, cfg, logger, out, live)
	if err != nil {
		if components != nil {
			components.Shutdown(logger)
		}
		return err
	}
	defer components.Shutdown(logger)

	return components.Session.Run(ctx)
}
