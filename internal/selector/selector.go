// Package selector finds the LAS files that belong to a sensor.
package selector

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/plotmerge/internal/config"
	"github.com/banshee-data/plotmerge/internal/errkind"
	"github.com/banshee-data/plotmerge/internal/fsutil"
	"github.com/banshee-data/plotmerge/internal/logging"
)

// Options controls which files are considered.
type Options struct {
	// Extensions lists accepted file extensions, compared case-insensitively.
	Extensions []string
	// ExcludeSuffixes drops files whose name ends in any of these, such as
	// previously merged outputs.
	ExcludeSuffixes []string
}

// DefaultOptions accepts .las files and skips merged outputs.
func DefaultOptions() Options {
	return Options{
		Extensions:      append([]string(nil), config.DefaultExtensions...),
		ExcludeSuffixes: []string{config.DefaultMergedSuffix},
	}
}

// OptionsFromConfig builds Options from a merge configuration.
func OptionsFromConfig(cfg *config.MergeConfig) Options {
	return Options{
		Extensions:      cfg.GetAcceptableExtensions(),
		ExcludeSuffixes: []string{cfg.GetMergedSuffix()},
	}
}

// LasFileRef is a selected source file.
type LasFileRef struct {
	Path   string
	Name   string
	Sensor string
}

// Select walks sources in order and returns the files matching sensor.
// Directories are walked recursively in lexical order, and a file matches on
// its path below the source directory, never on the directory's own name or
// its ancestors. Missing sources are logged and skipped. Returns an errkind.ErrNotFound error when nothing
// matches.
func Select(fsys fsutil.FileSystem, sources []string, sensor string, opts Options) ([]LasFileRef, error) {
	if strings.TrimSpace(sensor) == "" {
		return nil, errkind.NotFoundf("select", "", "empty sensor name")
	}
	s := &selection{
		fsys:   fsys,
		sensor: sensor,
		opts:   normalize(opts),
		seen:   make(map[string]bool),
	}

	for _, src := range sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			logging.Opsf("skipping source %q: %v", src, err)
			continue
		}
		info, err := fsys.Stat(abs)
		if err != nil {
			logging.Opsf("skipping missing source %s: %v", abs, err)
			continue
		}
		if info.IsDir() {
			if err := s.walk(abs, abs); err != nil {
				return nil, err
			}
			continue
		}
		s.consider(abs, filepath.Base(abs))
	}

	if len(s.refs) == 0 {
		return nil, errkind.NotFoundf("select", strings.Join(sources, ", "),
			"no %s files for sensor %q", strings.Join(s.opts.Extensions, "/"), sensor)
	}
	logging.Diagf("selected %d file(s) for sensor %s", len(s.refs), sensor)
	return s.refs, nil
}

type selection struct {
	fsys   fsutil.FileSystem
	sensor string
	opts   Options
	seen   map[string]bool
	refs   []LasFileRef
}

func (s *selection) walk(root, dir string) error {
	entries, err := s.fsys.ReadDir(dir)
	if err != nil {
		return errkind.IO("read directory", dir, err)
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := s.walk(root, p); err != nil {
				return err
			}
			continue
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = e.Name()
		}
		s.consider(p, rel)
	}
	return nil
}

// consider selects path when it qualifies; rel is the part of path the
// sensor name is looked for in.
func (s *selection) consider(path, rel string) {
	if s.seen[path] {
		return
	}
	name := filepath.Base(path)
	if !s.matches(rel, name) {
		logging.Tracef("ignoring %s", path)
		return
	}
	s.seen[path] = true
	s.refs = append(s.refs, LasFileRef{Path: path, Name: name, Sensor: s.sensor})
	logging.Diagf("selected %s", path)
}

func (s *selection) matches(rel, name string) bool {
	lower := strings.ToLower(name)
	if !hasSuffix(lower, s.opts.Extensions) {
		return false
	}
	if hasSuffix(lower, s.opts.ExcludeSuffixes) {
		return false
	}
	return MatchesSensor(rel, s.sensor)
}

// MatchesSensor reports whether path carries sensor in its file name or in
// one of its directory names, ignoring case.
func MatchesSensor(path, sensor string) bool {
	return sensor != "" && strings.Contains(strings.ToLower(path), strings.ToLower(sensor))
}

func hasSuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if suf != "" && strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func normalize(opts Options) Options {
	out := Options{}
	for _, ext := range opts.Extensions {
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out.Extensions = append(out.Extensions, strings.ToLower(ext))
	}
	if len(out.Extensions) == 0 {
		out.Extensions = append(out.Extensions, config.DefaultExtensions...)
	}
	for _, suf := range opts.ExcludeSuffixes {
		out.ExcludeSuffixes = append(out.ExcludeSuffixes, strings.ToLower(suf))
	}
	return out
}

// String implements fmt.Stringer.
func (r LasFileRef) String() string {
	return fmt.Sprintf("%s (%s)", r.Path, r.Sensor)
}
