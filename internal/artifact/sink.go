// Package artifact persists the generated script to disk.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-recorder/api/schemas"
)

// PersistenceError reports a failed artifact write. Recording continues.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist script to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FileSink overwrites a single file with the latest script.
type FileSink struct {
	fs     afero.Fs
	path   string
	logger *zap.Logger
}

// NewFileSink resolves the artifact path. A relative file name is placed
// under dir; an absolute one is used as is.
func NewFileSink(fs afero.Fs, dir, file string, logger *zap.Logger) (*FileSink, error) {
	if file == "" {
		return nil, fmt.Errorf("artifact file name must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	expanded, err := homedir.Expand(file)
	if err != nil {
		return nil, fmt.Errorf("failed to expand artifact path: %w", err)
	}
	path := expanded
	if !filepath.IsAbs(path) && dir != "" {
		d, err := homedir.Expand(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand artifact directory: %w", err)
		}
		path = filepath.Join(d, path)
	}
	return &FileSink{fs: fs, path: filepath.Clean(path), logger: logger.Named("artifact")}, nil
}

// Path is the file the sink writes.
func (s *FileSink) Path() string { return s.path }

// Write replaces the artifact with the script text. The content is staged in
// a temporary file in the same directory and renamed into place.
func (s *FileSink) Write(script schemas.Script) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = s.fs.Remove(tmpName) }

	if _, err := tmp.WriteString(script.Text); err != nil {
		tmp.Close()
		cleanup()
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := s.fs.Chmod(tmpName, 0o644); err != nil && !os.IsNotExist(err) {
		s.logger.Debug("Could not set artifact permissions.", zap.Error(err))
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		cleanup()
		return &PersistenceError{Path: s.path, Err: err}
	}

	s.logger.Debug("Script persisted.", zap.String("path", s.path), zap.Int("bytes", len(script.Text)))
	return nil
}
