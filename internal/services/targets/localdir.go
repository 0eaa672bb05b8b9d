package targets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/nzblnk"
)

// localDir writes finished NZB files into a directory, one subdirectory per
// category when a category is set.
type localDir struct {
	name      string
	directory string
	logger    *logrus.Logger
}

func newLocalDir(cfg config.TargetConfig, logger *logrus.Logger) *localDir {
	return &localDir{name: cfg.Name, directory: cfg.Directory, logger: logger}
}

func (t *localDir) Name() string {
	return t.name
}

func (t *localDir) Push(_ context.Context, up *Upload) error {
	dir := t.directory
	if up.Category != "" {
		dir = filepath.Join(dir, sanitizeFilename(up.Category))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("creating directory: %w", err)}
	}

	filename := up.Filename
	if filename == "" {
		filename = nzblnk.JoinFilename(up.Title, up.Password)
	}
	path := filepath.Join(dir, sanitizeFilename(filename))

	if err := os.WriteFile(path, []byte(up.Content), 0644); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("writing NZB file: %w", err)}
	}

	t.logger.WithFields(logrus.Fields{
		"target": t.name,
		"path":   path,
	}).Debug("NZB file written")
	return nil
}

func (t *localDir) TestConnection(_ context.Context) error {
	info, err := os.Stat(t.directory)
	if err != nil {
		return &Error{Target: t.name, Err: err}
	}
	if !info.IsDir() {
		return &Error{Target: t.name, Err: fmt.Errorf("%s is not a directory", t.directory)}
	}
	return nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_",
	"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
)

func sanitizeFilename(name string) string {
	return filenameReplacer.Replace(name)
}
