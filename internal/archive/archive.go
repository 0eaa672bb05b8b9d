// Package archive extracts file entries from rar, 7z and zip payloads.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
	"github.com/sirupsen/logrus"
)

const maxEntrySize = 50 * 1024 * 1024 // 50MB per entry

// Entry is a single named file extracted from an archive.
type Entry struct {
	Name string
	Data []byte
}

// Extractor decodes archive payloads into their file entries.
type Extractor struct {
	logger *logrus.Logger
}

// NewExtractor creates a new archive extractor.
func NewExtractor(logger *logrus.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Supported reports whether the filename carries an archive extension this
// extractor can handle.
func Supported(filename string) bool {
	switch strings.ToLower(path.Ext(filename)) {
	case ".rar", ".zip", ".7z":
		return true
	}
	return false
}

// Extract decodes the archive and returns its file entries. Entries that
// fail to decode are skipped with a warning; only a payload that cannot be
// opened at all is an error.
func (e *Extractor) Extract(data []byte, filename string) ([]Entry, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".rar":
		return e.extractRar(data)
	case ".zip":
		return e.extractZip(data)
	case ".7z":
		return e.extract7z(data)
	}
	return nil, fmt.Errorf("unsupported archive type: %s", filename)
}

func (e *Extractor) extractRar(data []byte) ([]Entry, error) {
	reader, err := rardecode.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening rar archive: %w", err)
	}

	var entries []Entry
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("reading rar header: %w", err)
		}
		if header.IsDir {
			continue
		}

		content, err := io.ReadAll(io.LimitReader(reader, maxEntrySize))
		if err != nil {
			e.logger.WithError(err).WithField("entry", header.Name).Warn("Skipping unreadable rar entry")
			continue
		}
		entries = append(entries, Entry{Name: path.Base(header.Name), Data: content})
	}
	return entries, nil
}

func (e *Extractor) extractZip(data []byte) ([]Entry, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip archive: %w", err)
	}

	var entries []Entry
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			e.logger.WithError(err).WithField("entry", file.Name).Warn("Skipping unreadable zip entry")
			continue
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxEntrySize))
		rc.Close()
		if err != nil {
			e.logger.WithError(err).WithField("entry", file.Name).Warn("Skipping unreadable zip entry")
			continue
		}
		entries = append(entries, Entry{Name: path.Base(file.Name), Data: content})
	}
	return entries, nil
}

func (e *Extractor) extract7z(data []byte) ([]Entry, error) {
	reader, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening 7z archive: %w", err)
	}

	var entries []Entry
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			e.logger.WithError(err).WithField("entry", file.Name).Warn("Skipping unreadable 7z entry")
			continue
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxEntrySize))
		rc.Close()
		if err != nil {
			e.logger.WithError(err).WithField("entry", file.Name).Warn("Skipping unreadable 7z entry")
			continue
		}
		entries = append(entries, Entry{Name: path.Base(file.Name), Data: content})
	}
	return entries, nil
}
