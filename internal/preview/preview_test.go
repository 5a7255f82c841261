package preview

import (
	"bytes"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/plotmerge/internal/errkind"
	"github.com/banshee-data/plotmerge/internal/testutil"
)

func TestSummarize(t *testing.T) {
	path := testutil.WriteLAS(t, filepath.Join(t.TempDir(), "plot_merged.las"), 100, 1, testutil.DefaultLASOptions())

	s, sample, err := Summarize(path, 1000)
	require.NoError(t, err)

	assert.Equal(t, uint64(100), s.PointCount)
	assert.Equal(t, 100, s.SampleCount)
	assert.Equal(t, 100, sample.Len())
	assert.InDelta(t, 0.0, s.MinZ, 1e-9)
	assert.InDelta(t, 0.99, s.MaxZ, 1e-9)
	assert.InDelta(t, 0.495, s.MeanZ, 1e-9)
	assert.InDelta(t, 0.49, s.MedianZ, 1e-9)
	assert.InDelta(t, 0.2901, s.StdDevZ, 1e-3)
}

func TestSummarizeSamplesEvenly(t *testing.T) {
	path := testutil.WriteLAS(t, filepath.Join(t.TempDir(), "plot_merged.las"), 100, 1, testutil.DefaultLASOptions())

	tests := []struct {
		maxPoints int
		want      int
		wantMaxZ  float64
	}{
		{maxPoints: 10, want: 10, wantMaxZ: 0.9},
		{maxPoints: 30, want: 25, wantMaxZ: 0.96},
		{maxPoints: 100, want: 100, wantMaxZ: 0.99},
	}
	for _, tt := range tests {
		s, sample, err := Summarize(path, tt.maxPoints)
		require.NoError(t, err)
		assert.Equal(t, tt.want, s.SampleCount, "maxPoints=%d", tt.maxPoints)
		assert.Equal(t, tt.want, sample.Len(), "maxPoints=%d", tt.maxPoints)
		assert.LessOrEqual(t, s.SampleCount, tt.maxPoints)
		assert.InDelta(t, tt.wantMaxZ, s.MaxZ, 1e-9, "maxPoints=%d", tt.maxPoints)
		assert.Equal(t, uint64(100), s.PointCount)
	}
}

func TestSummarizeEdgeCases(t *testing.T) {
	dir := t.TempDir()

	empty := testutil.WriteLAS(t, filepath.Join(dir, "empty.las"), 0, 1, testutil.DefaultLASOptions())
	s, sample, err := Summarize(empty, 10)
	require.NoError(t, err)
	assert.Equal(t, &Summary{}, s)
	assert.Zero(t, sample.Len())

	single := testutil.WriteLAS(t, filepath.Join(dir, "single.las"), 1, 1, testutil.DefaultLASOptions())
	s, _, err = Summarize(single, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, s.SampleCount)
	assert.Zero(t, s.StdDevZ)
	assert.False(t, math.IsNaN(s.StdDevZ))

	_, _, err = Summarize(single, 0)
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.las")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0644))
	_, _, err = Summarize(bad, 10)
	assert.ErrorIs(t, err, errkind.ErrFormat)
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteLAS(t, filepath.Join(dir, "plot_merged.las"), 100, 1, testutil.DefaultLASOptions())
	_, sample, err := Summarize(path, 100)
	require.NoError(t, err)

	out := filepath.Join(dir, "plot_merged.png")
	require.NoError(t, Render(sample, "plot scanner3DTop", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")), "preview should be a PNG")
}

func TestRenderErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, Render(nil, "", filepath.Join(dir, "a.png")))
	assert.Error(t, Render(&Sample{}, "", filepath.Join(dir, "a.png")))

	sample := &Sample{X: []float64{0}, Y: []float64{0}, Z: []float64{0}}
	err := Render(sample, "", filepath.Join(dir, "missing", "a.png"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrIO)
}

func TestElevationColor(t *testing.T) {
	low := elevationColor(0, 0, 10).(color.RGBA)
	assert.Greater(t, low.B, low.R)
	assert.Greater(t, low.B, low.G)

	high := elevationColor(10, 0, 10).(color.RGBA)
	assert.Greater(t, high.R, high.B)
	assert.Greater(t, high.R, high.G)

	// A flat cloud maps to the low end of the ramp.
	assert.Equal(t, elevationColor(0, 0, 10), elevationColor(5, 5, 5))
}
