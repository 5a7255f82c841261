// Package merge combines LAS files into a single destination file.
//
// A merge never modifies the destination in place. Records are streamed into
// a temporary file next to the destination, which replaces the destination
// only once every input has been copied and the file has been synced. When
// the destination already exists its records are copied first, so earlier
// merges are preserved.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/plotmerge/internal/errkind"
	"github.com/banshee-data/plotmerge/internal/las"
	"github.com/banshee-data/plotmerge/internal/logging"
	"github.com/banshee-data/plotmerge/internal/version"
)

// checkInterval is the number of records copied between context checks.
const checkInterval = 4096

// defaultMode is the permission of a newly created destination.
const defaultMode os.FileMode = 0644

// Options customises the merged header.
type Options struct {
	// SystemIdentifier replaces the base file's system identifier when set.
	SystemIdentifier string
	// GeneratingSoftware defaults to version.GeneratingSoftware().
	GeneratingSoftware string
	// Now defaults to time.Now and stamps the creation date.
	Now func() time.Time
}

// SourceStats describes one input copied into the destination.
type SourceStats struct {
	Path        string
	Points      uint64
	Requantized bool
}

// Stats summarises a completed merge.
type Stats struct {
	Destination    string
	Appended       bool
	PreviousPoints uint64
	AddedPoints    uint64
	TotalPoints    uint64
	Sources        []SourceStats
	Header         las.Header
}

// MergeFiles appends the point records of sources to dest, creating dest
// when it does not exist. Inputs must share a point format and record
// length; differing scale or offset is resolved by re-quantizing into the
// base file's. Invalid inputs fail with errkind.ErrFormat and filesystem
// failures with errkind.ErrIO. On any failure dest is left unmodified.
func MergeFiles(ctx context.Context, dest string, sources []string, opts Options) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, errkind.Formatf("merge", dest, "no input files")
	}
	if opts.GeneratingSoftware == "" {
		opts.GeneratingSoftware = version.GeneratingSoftware()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return nil, errkind.IO("resolve", dest, err)
	}

	m := &merger{ctx: ctx, dest: absDest}
	defer m.closeInputs()

	if err := m.openInputs(sources); err != nil {
		return nil, err
	}
	if err := m.checkCompatible(); err != nil {
		return nil, err
	}
	return m.write(opts)
}

type merger struct {
	ctx    context.Context
	dest   string
	inputs []*las.Reader
	// existing is true when inputs[0] is the destination itself.
	existing bool
	// mode is applied to the output; an existing destination keeps its own.
	mode os.FileMode
}

func (m *merger) openInputs(sources []string) error {
	m.mode = defaultMode
	switch fi, err := os.Stat(m.dest); {
	case err == nil:
		m.mode = fi.Mode().Perm()
		r, err := las.Open(m.dest)
		if err != nil {
			return err
		}
		m.inputs = append(m.inputs, r)
		m.existing = true
		logging.Diagf("appending to existing %s with %d points", m.dest, r.Count())
	case errors.Is(err, os.ErrNotExist):
	default:
		return errkind.IO("stat", m.dest, err)
	}

	for _, src := range sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			return errkind.IO("resolve", src, err)
		}
		if abs == m.dest {
			logging.Opsf("skipping %s: it is the merge destination", abs)
			continue
		}
		r, err := las.Open(abs)
		if err != nil {
			return err
		}
		m.inputs = append(m.inputs, r)
		logging.Diagf("opened %s: LAS %d.%d format %d, %d points",
			abs, r.Header.VersionMajor, r.Header.VersionMinor, r.Header.PointFormat, r.Count())
	}
	if len(m.inputs) == 0 || (m.existing && len(m.inputs) == 1) {
		return errkind.Formatf("merge", m.dest, "no input files besides the destination")
	}
	return nil
}

func (m *merger) closeInputs() {
	for _, r := range m.inputs {
		r.Close()
	}
	m.inputs = nil
}

func (m *merger) checkCompatible() error {
	base := &m.inputs[0].Header
	for _, r := range m.inputs[1:] {
		h := &r.Header
		if h.PointFormat != base.PointFormat {
			return errkind.Formatf("merge", r.Path(), "point format %d does not match %d of %s",
				h.PointFormat, base.PointFormat, m.inputs[0].Path())
		}
		if h.PointRecordLength != base.PointRecordLength {
			return errkind.Formatf("merge", r.Path(), "point record length %d does not match %d of %s",
				h.PointRecordLength, base.PointRecordLength, m.inputs[0].Path())
		}
	}
	return nil
}

func (m *merger) write(opts Options) (stats *Stats, err error) {
	base := m.inputs[0]
	hdr := base.Header
	now := opts.Now().UTC()
	hdr.CreationDay = uint16(now.YearDay())
	hdr.CreationYear = uint16(now.Year())
	hdr.SetSoftware(opts.GeneratingSoftware)
	if opts.SystemIdentifier != "" {
		hdr.SetSystemID(opts.SystemIdentifier)
	}

	dir := filepath.Dir(m.dest)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(m.dest)+".*.tmp")
	if err != nil {
		return nil, errkind.IO("create temp file", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w, err := las.NewWriter(tmp, hdr, base.VLRs)
	if err != nil {
		return nil, errkind.IO("write header", tmpName, err)
	}

	stats = &Stats{Destination: m.dest, Appended: m.existing}
	for i, r := range m.inputs {
		n, requantized, err := m.copyPoints(w, r)
		if err != nil {
			return nil, err
		}
		if i == 0 && m.existing {
			stats.PreviousPoints = n
			continue
		}
		stats.AddedPoints += n
		stats.Sources = append(stats.Sources, SourceStats{Path: r.Path(), Points: n, Requantized: requantized})
	}

	if err := w.Close(base.EVLRs); err != nil {
		return nil, errkind.IO("finish", tmpName, err)
	}
	if err := tmp.Chmod(m.mode); err != nil {
		return nil, errkind.IO("chmod", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, errkind.IO("sync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errkind.IO("close", tmpName, err)
	}
	m.closeInputs()
	if err := os.Rename(tmpName, m.dest); err != nil {
		return nil, errkind.IO("rename", m.dest, err)
	}

	stats.TotalPoints = w.Count()
	stats.Header = w.Header()
	logging.Opsf("merged %d point(s) from %d file(s) into %s (%d total)",
		stats.AddedPoints, len(stats.Sources), m.dest, stats.TotalPoints)
	return stats, nil
}

// copyPoints streams every record of r into w, re-quantizing coordinates
// when r's scale or offset differs from the output header.
func (m *merger) copyPoints(w *las.Writer, r *las.Reader) (uint64, bool, error) {
	out := w.Header()
	requantize := !out.SameQuantization(&r.Header)
	if requantize {
		logging.Diagf("re-quantizing %s: scale %v offset %v -> scale %v offset %v",
			r.Path(), r.Header.Scale, r.Header.Offset, out.Scale, out.Offset)
	}

	var n uint64
	for {
		if n%checkInterval == 0 {
			if err := m.ctx.Err(); err != nil {
				return n, requantize, err
			}
			if n > 0 {
				logging.Tracef("%s: copied %d of %d points", r.Path(), n, r.Count())
			}
		}
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, requantize, err
		}
		if requantize {
			x, y, z := r.Header.Scaled(rec.RawXYZ())
			rx, ry, rz, err := out.Quantize(x, y, z)
			if err != nil {
				return n, requantize, errkind.Format("re-quantize", r.Path(), fmt.Errorf("point %d: %w", n, err))
			}
			rec.SetRawXYZ(rx, ry, rz)
		}
		if err := w.WriteRecord(rec); err != nil {
			return n, requantize, errkind.IO("write point", m.dest, err)
		}
		n++
	}
	return n, requantize, nil
}
