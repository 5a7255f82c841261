// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/plotmerge/internal/las"
)

// LASOptions describes a synthetic LAS fixture.
type LASOptions struct {
	Minor  uint8
	Format uint8
	Scale  [3]float64
	Offset [3]float64
	// Origin is added to every generated point.
	Origin [3]float64
}

// DefaultLASOptions returns a LAS 1.2 point format 1 fixture with millimetre
// quantization.
func DefaultLASOptions() LASOptions {
	return LASOptions{
		Minor:  2,
		Format: 1,
		Scale:  [3]float64{0.001, 0.001, 0.001},
	}
}

// WriteLAS writes a LAS file holding n points laid out on a small grid and
// returns its path. Point i has Z = i/100 above the origin and the record's
// last byte set to tag, so merged outputs can be traced back to sources.
func WriteLAS(t *testing.T, path string, n int, tag byte, opts LASOptions) string {
	t.Helper()

	hdr := las.NewHeader(opts.Minor, opts.Format)
	hdr.Scale = opts.Scale
	hdr.Offset = opts.Offset
	hdr.SetSystemID("testutil")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	w, err := las.NewWriter(f, hdr, nil)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	rec := make(las.Record, hdr.PointRecordLength)
	for i := 0; i < n; i++ {
		x := opts.Origin[0] + float64(i%10)*0.5
		y := opts.Origin[1] + float64(i/10)*0.5
		z := opts.Origin[2] + float64(i)/100
		rx, ry, rz, err := hdr.Quantize(x, y, z)
		if err != nil {
			t.Fatalf("quantize point %d: %v", i, err)
		}
		rec.SetRawXYZ(rx, ry, rz)
		rec.SetReturns(hdr.PointFormat, 1, 1)
		rec[len(rec)-1] = tag
		if err := w.WriteRecord(rec); err != nil {
			t.Fatalf("write point %d: %v", i, err)
		}
	}
	if err := w.Close(nil); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return path
}

// LASPoint is a decoded fixture point.
type LASPoint struct {
	X, Y, Z float64
	Tag     byte
}

// ReadLAS opens a LAS file and returns its header and decoded points.
func ReadLAS(t *testing.T, path string) (las.Header, []LASPoint) {
	t.Helper()
	r, err := las.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer r.Close()

	var pts []LASPoint
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		x, y, z := r.Header.Scaled(rec.RawXYZ())
		pts = append(pts, LASPoint{X: x, Y: y, Z: z, Tag: rec[len(rec)-1]})
	}
	return r.Header, pts
}

// WriteJSON marshals v into path.
func WriteJSON(t *testing.T, path string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
