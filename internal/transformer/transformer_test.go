package transformer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/plotmerge/internal/config"
	"github.com/banshee-data/plotmerge/internal/errkind"
	"github.com/banshee-data/plotmerge/internal/fsutil"
	"github.com/banshee-data/plotmerge/internal/ledger"
	"github.com/banshee-data/plotmerge/internal/report"
	"github.com/banshee-data/plotmerge/internal/testutil"
	"github.com/banshee-data/plotmerge/internal/timeutil"
)

const sensor = "scanner3DTop"

type fixture struct {
	root     string
	src      string
	ws       string
	metadata string
	dest     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root: root,
		src:  filepath.Join(root, "src"),
		ws:   filepath.Join(root, "ws"),
	}
	f.metadata = testutil.WriteJSON(t, filepath.Join(root, "metadata.json"), map[string]any{
		"plot_name": "Plot 12",
		"sensor":    sensor,
		"bounding_box": map[string]float64{
			"min_lat": 33.07, "min_lon": -111.975, "max_lat": 33.0701, "max_lon": -111.9749,
		},
	})
	f.dest = filepath.Join(f.ws, "Plot_12_scanner3DTop_merged.las")
	return f
}

func (f *fixture) writeLAS(t *testing.T, name string, n int, tag byte) string {
	t.Helper()
	return testutil.WriteLAS(t, filepath.Join(f.src, name), n, tag, testutil.DefaultLASOptions())
}

func (f *fixture) request() Request {
	return Request{
		WorkingSpace: f.ws,
		MetadataPath: f.metadata,
		Sensor:       sensor,
		Sources:      []string{f.src},
		Clock:        timeutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func TestRunMergesSensorFiles(t *testing.T) {
	f := newFixture(t)
	a := f.writeLAS(t, "scan1_scanner3DTop.las", 100, 1)
	b := f.writeLAS(t, "scan2_scanner3DTop.las", 50, 2)
	f.writeLAS(t, "scan1_stereoTop.las", 70, 3)

	res, err := Run(context.Background(), f.request())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Code)
	assert.Empty(t, res.Error)
	d := res.Details
	require.NotNil(t, d)
	assert.Equal(t, sensor, d.Sensor)
	assert.Equal(t, 2, d.TotalFileCount)
	assert.Equal(t, 2, d.ProcessedFileCount)
	assert.Equal(t, 2, d.LasFileCount)
	assert.Equal(t, uint64(150), d.PointCount)
	assert.Equal(t, uint64(0), d.PreviousPointCount)
	assert.Equal(t, f.dest, d.Destination)
	assert.NotEmpty(t, d.RunID)
	assert.Equal(t, "2024-06-01T12:00:00Z", d.UTCTimestamp)
	assert.Equal(t, "0s", d.ProcessingTime)
	require.NotNil(t, d.Elevation)
	assert.Equal(t, uint64(150), d.Elevation.PointCount)
	assert.Empty(t, d.Preview)

	require.Len(t, res.Files, 1)
	assert.Equal(t, f.dest, res.Files[0].Path)
	assert.Equal(t, sensor, res.Files[0].Key)
	assert.True(t, res.Files[0].Metadata.Replace)
	assert.Equal(t, []string{a, b}, res.Files[0].Metadata.Data.Source)

	_, pts := testutil.ReadLAS(t, f.dest)
	assert.Len(t, pts, 150)

	lg, err := ledger.Open(filepath.Join(f.ws, config.DefaultLedgerFile))
	require.NoError(t, err)
	defer lg.Close()
	run, err := lg.GetRun(context.Background(), d.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSucceeded, run.Status)
	assert.Equal(t, "Plot 12", run.Plot)
}

func TestRunMergeFilename(t *testing.T) {
	f := newFixture(t)
	f.writeLAS(t, "scan1_scanner3DTop.las", 10, 1)

	req := f.request()
	req.MergeFilename = "/elsewhere/plot12.las"
	res, err := Run(context.Background(), req)
	require.NoError(t, err)

	want := filepath.Join(f.ws, "plot12_merged.las")
	assert.Equal(t, want, res.Details.Destination)
	assert.FileExists(t, want)
	assert.NoFileExists(t, f.dest)
}

func TestRunIsIdempotentAndAppends(t *testing.T) {
	f := newFixture(t)
	f.writeLAS(t, "scan1_scanner3DTop.las", 100, 1)
	f.writeLAS(t, "scan2_scanner3DTop.las", 50, 2)

	_, err := Run(context.Background(), f.request())
	require.NoError(t, err)
	first, err := os.ReadFile(f.dest)
	require.NoError(t, err)

	// Same sources again: nothing is merged twice.
	res, err := Run(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Code)
	assert.Equal(t, 0, res.Details.LasFileCount)
	assert.Equal(t, 2, res.Details.TotalFileCount)
	assert.Len(t, res.Details.SkippedFiles, 2)
	assert.Equal(t, uint64(150), res.Details.PointCount)
	assert.Empty(t, res.Files)
	again, err := os.ReadFile(f.dest)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// A new scan is appended to the existing merge.
	c := f.writeLAS(t, "scan3_scanner3DTop.las", 25, 3)
	res, err = Run(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Details.LasFileCount)
	assert.Equal(t, uint64(150), res.Details.PreviousPointCount)
	assert.Equal(t, uint64(175), res.Details.PointCount)
	require.Len(t, res.Files, 1)
	assert.Equal(t, []string{c}, res.Files[0].Metadata.Data.Source)

	_, pts := testutil.ReadLAS(t, f.dest)
	require.Len(t, pts, 175)
	assert.Equal(t, byte(3), pts[174].Tag)
}

func TestRunRemergesWhenDestinationRemoved(t *testing.T) {
	f := newFixture(t)
	f.writeLAS(t, "scan1_scanner3DTop.las", 100, 1)
	f.writeLAS(t, "scan2_scanner3DTop.las", 50, 2)

	_, err := Run(context.Background(), f.request())
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.dest))

	res, err := Run(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Details.LasFileCount)
	assert.Equal(t, uint64(150), res.Details.PointCount)
}

func TestRunMetadataErrors(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]any
	}{
		{"missing sensor", map[string]any{"plot_name": "Plot 12"}},
		{"other sensor", map[string]any{"plot_name": "Plot 12", "sensor": "stereoTop"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.writeLAS(t, "scan1_scanner3DTop.las", 10, 1)
			testutil.WriteJSON(t, f.metadata, tt.metadata)

			res, err := Run(context.Background(), f.request())
			require.Error(t, err)
			assert.ErrorIs(t, err, errkind.ErrParse)
			assert.Equal(t, -report.ExitParse, res.Code)
			assert.Equal(t, "parse error", res.ErrorKind)
			assert.NoDirExists(t, f.ws, "no output may be created")
		})
	}

	f := newFixture(t)
	req := f.request()
	req.MetadataPath = filepath.Join(f.root, "missing.json")
	_, err := Run(context.Background(), req)
	assert.ErrorIs(t, err, errkind.ErrParse)
	assert.NoDirExists(t, f.ws)
}

func TestRunNotFound(t *testing.T) {
	f := newFixture(t)
	f.writeLAS(t, "scan1_stereoTop.las", 10, 1)

	res, err := Run(context.Background(), f.request())
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrNotFound)
	assert.Equal(t, -report.ExitNotFound, res.Code)
	assert.Equal(t, sensor, res.Details.Sensor)
	assert.NoDirExists(t, f.ws)
}

func TestRunFormatErrorLeavesDestinationUnmodified(t *testing.T) {
	f := newFixture(t)
	f.writeLAS(t, "scan1_scanner3DTop.las", 100, 1)
	_, err := Run(context.Background(), f.request())
	require.NoError(t, err)
	before, err := os.ReadFile(f.dest)
	require.NoError(t, err)

	f.writeLAS(t, "scan2_scanner3DTop.las", 50, 2)
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "scan3_scanner3DTop.las"), []byte("not a LAS file"), 0644))

	res, err := Run(context.Background(), f.request())
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrFormat)
	assert.Equal(t, -report.ExitFormat, res.Code)
	assert.Equal(t, 0, res.Details.LasFileCount)

	after, err := os.ReadFile(f.dest)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	lg, err := ledger.Open(filepath.Join(f.ws, config.DefaultLedgerFile))
	require.NoError(t, err)
	defer lg.Close()
	sources, err := lg.Sources(context.Background(), f.dest)
	require.NoError(t, err)
	assert.Len(t, sources, 1, "failed merge must not record sources")
	run, err := lg.GetRun(context.Background(), res.Details.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, run.Status)
}

func TestRunFormatErrorWithoutDestination(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.src, "scan1_scanner3DTop.las"), []byte("garbage"), 0644))

	_, err := Run(context.Background(), f.request())
	require.Error(t, err)
	assert.ErrorIs(t, err, errkind.ErrFormat)
	assert.NoFileExists(t, f.dest)
}

func TestRunPreview(t *testing.T) {
	f := newFixture(t)
	f.writeLAS(t, "scan1_scanner3DTop.las", 100, 1)

	req := f.request()
	req.Preview = true
	res, err := Run(context.Background(), req)
	require.NoError(t, err)

	want := filepath.Join(f.ws, "Plot_12_scanner3DTop_merged.png")
	assert.Equal(t, want, res.Details.Preview)
	assert.FileExists(t, want)
}

func TestRunPreviewFailureKeepsMergedFile(t *testing.T) {
	f := newFixture(t)
	a := f.writeLAS(t, "scan1_scanner3DTop.las", 100, 1)
	// A directory where the image should go makes rendering fail.
	png := filepath.Join(f.ws, "Plot_12_scanner3DTop_merged.png")
	require.NoError(t, os.MkdirAll(png, 0755))

	req := f.request()
	req.Preview = true
	res, err := Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Code)
	require.Len(t, res.Files, 1)
	assert.Equal(t, f.dest, res.Files[0].Path)
	assert.Equal(t, []string{a}, res.Files[0].Metadata.Data.Source)
	assert.Empty(t, res.Details.Preview)
	require.Len(t, res.Details.Warnings, 1)
	assert.Contains(t, res.Details.Warnings[0], "preview")
	assert.Equal(t, uint64(100), res.Details.PointCount)

	_, pts := testutil.ReadLAS(t, f.dest)
	assert.Len(t, pts, 100)

	lg, err := ledger.Open(filepath.Join(f.ws, config.DefaultLedgerFile))
	require.NoError(t, err)
	defer lg.Close()
	run, err := lg.GetRun(context.Background(), res.Details.RunID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSucceeded, run.Status)
}

// existsBlindFS serves real files but claims nothing exists.
type existsBlindFS struct {
	fsutil.OSFileSystem
}

func (existsBlindFS) Exists(string) bool { return false }

func TestRunChecksDestinationOnDisk(t *testing.T) {
	f := newFixture(t)
	f.writeLAS(t, "scan1_scanner3DTop.las", 100, 1)
	f.writeLAS(t, "scan2_scanner3DTop.las", 50, 2)

	req := f.request()
	req.FS = existsBlindFS{}
	_, err := Run(context.Background(), req)
	require.NoError(t, err)

	res, err := Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Details.LasFileCount)
	assert.Len(t, res.Details.SkippedFiles, 2)

	_, pts := testutil.ReadLAS(t, f.dest)
	assert.Len(t, pts, 150)
}

func TestRunWithConfig(t *testing.T) {
	f := newFixture(t)
	f.writeLAS(t, "scan1_scanner3DTop.las", 10, 1)

	ledgerFile, sysID := "ledger.db", "field-gantry"
	req := f.request()
	req.Config = &config.MergeConfig{LedgerFile: &ledgerFile, SystemIdentifier: &sysID}
	_, err := Run(context.Background(), req)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(f.ws, "ledger.db"))
	hdr, _ := testutil.ReadLAS(t, f.dest)
	assert.Equal(t, "field-gantry", hdr.SystemID())
	assert.Equal(t, filepath.Join(f.ws, "result.json"), ResultPath(req))
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	f.writeLAS(t, "scan1_scanner3DTop.las", 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, f.request())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -report.ExitOther, res.Code)
	assert.NoFileExists(t, f.dest)
}

func TestRunRequiresArguments(t *testing.T) {
	f := newFixture(t)

	req := f.request()
	req.WorkingSpace = ""
	_, err := Run(context.Background(), req)
	assert.ErrorIs(t, err, errkind.ErrParse)

	req = f.request()
	req.Sensor = " "
	_, err = Run(context.Background(), req)
	assert.ErrorIs(t, err, errkind.ErrParse)
}

func TestResolveDestination(t *testing.T) {
	ws := t.TempDir()
	tests := []struct {
		name          string
		mergeFilename string
		defaultName   string
		want          string
		wantErr       bool
	}{
		{"default name", "", "Plot_12_scanner3DTop", filepath.Join(ws, "Plot_12_scanner3DTop_merged.las"), false},
		{"merge filename", "plot12.las", "ignored", filepath.Join(ws, "plot12_merged.las"), false},
		{"merge filename with dirs", "../../up/plot12.las", "ignored", filepath.Join(ws, "plot12_merged.las"), false},
		{"merge filename without ext", "plot12", "ignored", filepath.Join(ws, "plot12_merged.las"), false},
		{"dot dot", "..", "ignored", "", true},
		{"root", "/", "ignored", "", true},
		{"empty default", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDestination(ws, tt.mergeFilename, tt.defaultName, config.DefaultMergedSuffix)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errkind.ErrParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
