// Package preview summarises a merged point cloud and renders a top-down
// preview image of it.
package preview

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/plotmerge/internal/las"
	"github.com/banshee-data/plotmerge/internal/logging"
)

// Sample holds real-world coordinates of evenly spaced points.
type Sample struct {
	X, Y, Z []float64
}

// Len returns the number of sampled points.
func (s *Sample) Len() int { return len(s.Z) }

// Summary describes the elevation of a point cloud.
type Summary struct {
	PointCount  uint64  `json:"point_count"`
	SampleCount int     `json:"sample_count"`
	MinZ        float64 `json:"min_z"`
	MaxZ        float64 `json:"max_z"`
	MeanZ       float64 `json:"mean_z"`
	StdDevZ     float64 `json:"stddev_z"`
	MedianZ     float64 `json:"median_z"`
}

// Summarize reads up to maxPoints points spread evenly across the file at
// path and computes elevation statistics over them.
func Summarize(path string, maxPoints int) (*Summary, *Sample, error) {
	if maxPoints <= 0 {
		return nil, nil, fmt.Errorf("maxPoints must be positive, got %d", maxPoints)
	}
	r, err := las.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	count := r.Count()
	stride := uint64(1)
	if count > uint64(maxPoints) {
		stride = (count + uint64(maxPoints) - 1) / uint64(maxPoints)
	}

	capacity := count/stride + 1
	sample := &Sample{
		X: make([]float64, 0, capacity),
		Y: make([]float64, 0, capacity),
		Z: make([]float64, 0, capacity),
	}
	for i := uint64(0); ; i++ {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if i%stride != 0 {
			continue
		}
		x, y, z := r.Header.Scaled(rec.RawXYZ())
		sample.X = append(sample.X, x)
		sample.Y = append(sample.Y, y)
		sample.Z = append(sample.Z, z)
	}

	s := summarize(count, sample.Z)
	logging.Diagf("summary of %s: %d points, %d sampled, z in [%.3f, %.3f]",
		path, s.PointCount, s.SampleCount, s.MinZ, s.MaxZ)
	return s, sample, nil
}

func summarize(count uint64, z []float64) *Summary {
	s := &Summary{PointCount: count, SampleCount: len(z)}
	if len(z) == 0 {
		return s
	}
	s.MinZ = floats.Min(z)
	s.MaxZ = floats.Max(z)
	s.MeanZ, s.StdDevZ = stat.MeanStdDev(z, nil)
	if len(z) == 1 {
		s.StdDevZ = 0
	}

	sorted := append([]float64(nil), z...)
	sort.Float64s(sorted)
	s.MedianZ = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return s
}
