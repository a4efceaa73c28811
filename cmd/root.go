// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/scalpel-recorder/internal/config"
	"github.com/xkilldash9x/scalpel-recorder/internal/observability"
	"github.com/xkilldash9x/scalpel-recorder/internal/recorder"
)

const (
	configName = "recorder"
	envPrefix  = "RECORDER"
)

// ConfigError reports a configuration the recorder cannot start with.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// runFunc runs a recording session with a resolved configuration. live is
// nil when the script is not redrawn on the terminal.
type runFunc func(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer, live *recorder.LiveView) error

// NewRootCommand creates the recorder command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(viper.New(), runRecording)
}

func newRootCommand(v *viper.Viper, run runFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recorder [url] [output-file]",
		Short: "Records browser interactions as a Playwright script.",
		Long: `Opens a browser at the given URL (default ` + config.DefaultTargetURL + `) and turns
every click, keystroke and navigation into a Playwright test. The script is
rewritten to the output file (default ` + config.DefaultOutputFile + `) after every action and
printed when the browser is closed or the recorder is interrupted.`,
		Version:      Version,
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, args)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: configName})
				return &ConfigError{Err: err}
			}
			var live *recorder.LiveView
			if cfg.Recorder().LiveView {
				live = openLiveView()
			}
			observability.Initialize(cfg.Logger(), consoleFor(live))

			logger := observability.GetLogger()
			logger.Info("Starting recorder.",
				zap.String("version", Version),
				zap.String("url", cfg.Recorder().TargetURL),
				zap.String("output", cfg.Recorder().OutputFile))

			return run(cmd.Context(), cfg, logger, cmd.OutOrStdout(), live)
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	return cmd
}

// consoleFor routes console logs through the live view when there is one,
// so log lines never land inside the redrawn script.
func consoleFor(live *recorder.LiveView) zapcore.WriteSyncer {
	if live == nil {
		return zapcore.Lock(os.Stderr)
	}
	return live
}

// loadConfig resolves defaults, ./recorder.yaml, RECORDER_* variables and
// the positional arguments, in increasing precedence.
func loadConfig(v *viper.Viper, args []string) (*config.Config, error) {
	config.SetDefaults(v)
	v.AddConfigPath(".")
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if len(args) > 0 && args[0] != "" {
		v.Set("recorder.target_url", args[0])
	}
	if len(args) > 1 && args[1] != "" {
		v.Set("recorder.output_file", args[1])
	}
	return config.NewConfigFromViper(v)
}

// Execute runs the recorder command with the process arguments.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Recorder failed.", zap.Error(err))
		}
		return err
	}
	return nil
}
