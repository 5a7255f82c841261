// Package report builds and writes the result descriptor read by the
// orchestrating pipeline after each run.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/plotmerge/internal/errkind"
	"github.com/banshee-data/plotmerge/internal/fsutil"
	"github.com/banshee-data/plotmerge/internal/preview"
	"github.com/banshee-data/plotmerge/internal/version"
)

// Process exit statuses.
const (
	ExitOK       = 0
	ExitOther    = 1
	ExitParse    = 2
	ExitNotFound = 3
	ExitFormat   = 4
	ExitIO       = 5
)

// Result is the descriptor written after every run. A failed run has a
// negative Code and an Error message.
type Result struct {
	Code      int         `json:"code"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Files     []FileEntry `json:"file,omitempty"`
	Details   *Details    `json:"plotmerge,omitempty"`
}

// FileEntry describes one produced file.
type FileEntry struct {
	Path     string       `json:"path"`
	Key      string       `json:"key"`
	Metadata FileMetadata `json:"metadata"`
}

// FileMetadata is the per-file metadata block.
type FileMetadata struct {
	Replace bool     `json:"replace"`
	Data    FileData `json:"data"`
}

// FileData records where a produced file came from.
type FileData struct {
	Source      []string `json:"source"`
	Transformer string   `json:"transformer"`
	Version     string   `json:"version"`
	Timestamp   string   `json:"timestamp"`
}

// Details are the run statistics.
type Details struct {
	UTCTimestamp       string           `json:"utc_timestamp"`
	ProcessingTime     string           `json:"processing_time"`
	TotalFileCount     int              `json:"total_file_count"`
	ProcessedFileCount int              `json:"processed_file_count"`
	LasFileCount       int              `json:"las_file_count"`
	Sensor             string           `json:"sensor"`
	RunID              string           `json:"run_id,omitempty"`
	Destination        string           `json:"destination,omitempty"`
	PreviousPointCount uint64           `json:"previous_point_count"`
	PointCount         uint64           `json:"point_count"`
	SkippedFiles       []string         `json:"skipped_files,omitempty"`
	Elevation          *preview.Summary `json:"elevation,omitempty"`
	Preview            string           `json:"preview,omitempty"`
	Warnings           []string         `json:"warnings,omitempty"`
}

// NewFileEntry describes a merged output built from sources.
func NewFileEntry(path, sensor string, sources []string, at time.Time) FileEntry {
	return FileEntry{
		Path: path,
		Key:  sensor,
		Metadata: FileMetadata{
			Replace: true,
			Data: FileData{
				Source:      append([]string(nil), sources...),
				Transformer: version.Name,
				Version:     version.Version,
				Timestamp:   at.UTC().Format(time.RFC3339),
			},
		},
	}
}

// AddFile adds e to the result. An entry for the same path is merged into
// the existing one: its sources are appended, skipping duplicates, and its
// timestamp updated.
func (r *Result) AddFile(e FileEntry) {
	for i := range r.Files {
		cur := &r.Files[i]
		if cur.Path != e.Path {
			continue
		}
		seen := make(map[string]bool, len(cur.Metadata.Data.Source))
		for _, s := range cur.Metadata.Data.Source {
			seen[s] = true
		}
		for _, s := range e.Metadata.Data.Source {
			if !seen[s] {
				cur.Metadata.Data.Source = append(cur.Metadata.Data.Source, s)
				seen[s] = true
			}
		}
		if e.Metadata.Data.Timestamp != "" {
			cur.Metadata.Data.Timestamp = e.Metadata.Data.Timestamp
		}
		return
	}
	r.Files = append(r.Files, e)
}

// Failure builds the descriptor for a failed run. details may be nil.
func Failure(err error, details *Details) *Result {
	res := &Result{
		Code:    -ExitCode(err),
		Error:   err.Error(),
		Details: details,
	}
	if kind := errkind.Of(err); kind != nil {
		res.ErrorKind = kind.Error()
	}
	return res
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch errkind.Of(err) {
	case errkind.ErrParse:
		return ExitParse
	case errkind.ErrNotFound:
		return ExitNotFound
	case errkind.ErrFormat:
		return ExitFormat
	case errkind.ErrIO:
		return ExitIO
	}
	return ExitOther
}

// Write stores result as indented JSON at path. The file is written to a
// sibling temporary name and renamed into place.
func Write(fsys fsutil.FileSystem, path string, result *Result) error {
	if result == nil {
		return errors.New("nil result")
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')

	if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errkind.IO("write result", path, err)
	}
	tmp := path + ".tmp"
	if err := fsys.WriteFile(tmp, data, 0644); err != nil {
		return errkind.IO("write result", tmp, err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		fsys.Remove(tmp)
		return errkind.IO("write result", path, err)
	}
	return nil
}

// Read loads a result descriptor.
func Read(fsys fsutil.FileSystem, path string) (*Result, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errkind.IO("read result", path, err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errkind.Parse("read result", path, err)
	}
	return &res, nil
}
