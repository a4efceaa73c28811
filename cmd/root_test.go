// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-recorder/internal/config"
	"github.com/xkilldash9x/scalpel-recorder/internal/recorder"
)

// isolate moves the test into an empty working directory so no stray
// recorder.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadConfig(t *testing.T) {
	t.Run("should resolve defaults without a config file", func(t *testing.T) {
		isolate(t)
		cfg, err := loadConfig(viper.New(), nil)
		require.NoError(t, err)

		assert.Equal(t, config.DefaultTargetURL, cfg.Recorder().TargetURL)
		assert.Equal(t, config.DefaultOutputFile, cfg.Recorder().OutputFile)
		assert.Equal(t, "javascript", cfg.Recorder().Language)
	})

	t.Run("should let positional arguments override the target and output", func(t *testing.T) {
		isolate(t)
		cfg, err := loadConfig(viper.New(), []string{"https://example.com/login", "login.spec.js"})
		require.NoError(t, err)

		assert.Equal(t, "https://example.com/login", cfg.Recorder().TargetURL)
		assert.Equal(t, "login.spec.js", cfg.Recorder().OutputFile)
	})

	t.Run("should ignore empty positional arguments", func(t *testing.T) {
		isolate(t)
		cfg, err := loadConfig(viper.New(), []string{"", ""})
		require.NoError(t, err)
		assert.Equal(t, config.DefaultTargetURL, cfg.Recorder().TargetURL)
		assert.Equal(t, config.DefaultOutputFile, cfg.Recorder().OutputFile)
	})

	t.Run("should read recorder.yaml from the working directory", func(t *testing.T) {
		dir := isolate(t)
		yaml := "recorder:\n  language: python\n  output_dir: scripts\nreporting:\n  enabled: false\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "recorder.yaml"), []byte(yaml), 0o644))

		cfg, err := loadConfig(viper.New(), []string{"", "flow.py"})
		require.NoError(t, err)
		assert.Equal(t, "python", cfg.Recorder().Language)
		assert.Equal(t, "scripts", cfg.Recorder().OutputDir)
		assert.Equal(t, "flow.py", cfg.Recorder().OutputFile)
		assert.False(t, cfg.Reporting().Enabled)
	})

	t.Run("should apply environment overrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("RECORDER_RECORDER_LANGUAGE", "python")
		t.Setenv("RECORDER_REPORTING_SECRET_KEY", "s3cr3t")

		cfg, err := loadConfig(viper.New(), nil)
		require.NoError(t, err)
		assert.Equal(t, "python", cfg.Recorder().Language)
		assert.Equal(t, "s3cr3t", cfg.Reporting().SecretKey)
	})

	t.Run("should reject an unsupported language", func(t *testing.T) {
		isolate(t)
		t.Setenv("RECORDER_RECORDER_LANGUAGE", "cobol")

		_, err := loadConfig(viper.New(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cobol")
	})

	t.Run("should fail on a malformed config file", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "recorder.yaml"), []byte("recorder: [unclosed"), 0o644))

		_, err := loadConfig(viper.New(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})
}

func TestRootCommand(t *testing.T) {
	t.Run("should print the version", func(t *testing.T) {
		isolate(t)
		var out bytes.Buffer
		cmd := newRootCommand(viper.New(), func(context.Context, *config.Config, *zap.Logger, io.Writer, *recorder.LiveView) error {
			t.Fatal("run must not be called for --version")
			return nil
		})
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--version"})

		require.NoError(t, cmd.Execute())
		assert.Equal(t, Version+"\n", out.String())
	})

	t.Run("should reject more than two arguments", func(t *testing.T) {
		isolate(t)
		cmd := newRootCommand(viper.New(), func(context.Context, *config.Config, *zap.Logger, io.Writer, *recorder.LiveView) error {
			return nil
		})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{"https://a.test", "a.spec.js", "extra"})

		assert.Error(t, cmd.Execute())
	})

	t.Run("should pass the resolved configuration to the run function", func(t *testing.T) {
		isolate(t)
		origOpen := openLiveView
		t.Cleanup(func() { openLiveView = origOpen })
		opened := 0
		openLiveView = func() *recorder.LiveView {
			opened++
			return nil
		}

		var got *config.Config
		var out bytes.Buffer
		cmd := newRootCommand(viper.New(), func(ctx context.Context, cfg *config.Config, logger *zap.Logger, w io.Writer, live *recorder.LiveView) error {
			got = cfg
			assert.NotNil(t, logger)
			assert.Nil(t, live, "no live view off a terminal")
			_, err := io.WriteString(w, "ok")
			return err
		})
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"https://example.com", "out.spec.js"})

		require.NoError(t, cmd.ExecuteContext(context.Background()))
		require.NotNil(t, got)
		assert.Equal(t, "https://example.com", got.Recorder().TargetURL)
		assert.Equal(t, "out.spec.js", got.Recorder().OutputFile)
		assert.Equal(t, "ok", out.String())
		assert.Equal(t, 1, opened, "live_view defaults to on")
	})

	t.Run("should wrap configuration failures", func(t *testing.T) {
		isolate(t)
		t.Setenv("RECORDER_RECORDER_LANGUAGE", "cobol")
		called := false
		cmd := newRootCommand(viper.New(), func(context.Context, *config.Config, *zap.Logger, io.Writer, *recorder.LiveView) error {
			called = true
			return nil
		})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{})

		err := cmd.Execute()
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.False(t, called)
	})

	t.Run("should return run errors unchanged", func(t *testing.T) {
		isolate(t)
		boom := errors.New("boom")
		cmd := newRootCommand(viper.New(), func(context.Context, *config.Config, *zap.Logger, io.Writer, *recorder.LiveView) error {
			return boom
		})
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs([]string{})

		assert.ErrorIs(t, cmd.Execute(), boom)
	})
}

func TestConfigError(t *testing.T) {
	inner := errors.New("language missing")
	err := &ConfigError{Err: inner}
	assert.Equal(t, "configuration error: language missing", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestConsoleFor(t *testing.T) {
	assert.NotNil(t, consoleFor(nil), "stderr without a live view")

	live := &recorder.LiveView{}
	assert.Same(t, live, consoleFor(live), "logs go through the live view")
}
