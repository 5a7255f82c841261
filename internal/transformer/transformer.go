// Package transformer runs one plot merge: it loads the plot metadata,
// selects the sensor's LAS files, merges those not already merged into the
// plot's destination file, and describes the outcome.
package transformer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/plotmerge/internal/config"
	"github.com/banshee-data/plotmerge/internal/errkind"
	"github.com/banshee-data/plotmerge/internal/fsutil"
	"github.com/banshee-data/plotmerge/internal/ledger"
	"github.com/banshee-data/plotmerge/internal/logging"
	"github.com/banshee-data/plotmerge/internal/merge"
	"github.com/banshee-data/plotmerge/internal/metadata"
	"github.com/banshee-data/plotmerge/internal/preview"
	"github.com/banshee-data/plotmerge/internal/report"
	"github.com/banshee-data/plotmerge/internal/security"
	"github.com/banshee-data/plotmerge/internal/selector"
	"github.com/banshee-data/plotmerge/internal/timeutil"
)

// Request describes one invocation.
type Request struct {
	WorkingSpace  string
	MetadataPath  string
	MergeFilename string
	Sensor        string
	Sources       []string
	Preview       bool

	// Config may be nil for defaults.
	Config *config.MergeConfig
	// FS reads the metadata and lists the sources. It defaults to the OS
	// filesystem. The working space, with the merged file, the ledger and the
	// preview, always lives on the OS filesystem.
	FS fsutil.FileSystem
	// Clock defaults to the wall clock.
	Clock timeutil.Clock
}

func (r *Request) setDefaults() {
	if r.Config == nil {
		r.Config = config.EmptyMergeConfig()
	}
	if r.FS == nil {
		r.FS = fsutil.OSFileSystem{}
	}
	if r.Clock == nil {
		r.Clock = timeutil.RealClock{}
	}
}

// ResultPath is where the result descriptor for req is written.
func ResultPath(req Request) string {
	req.setDefaults()
	return filepath.Join(req.WorkingSpace, req.Config.GetResultFile())
}

// ResolveDestination returns the merged output path inside workingSpace.
// The name is the base of mergeFilename without its extension, or
// defaultName when mergeFilename is empty, followed by suffix.
func ResolveDestination(workingSpace, mergeFilename, defaultName, suffix string) (string, error) {
	name := defaultName
	if mergeFilename != "" {
		base := filepath.Base(mergeFilename)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", errkind.Parsef("resolve destination", mergeFilename, "cannot derive an output name")
	}
	dest := filepath.Join(workingSpace, name+suffix)
	if err := security.ValidatePathWithinDirectory(dest, workingSpace); err != nil {
		return "", errkind.Parse("resolve destination", dest, err)
	}
	return dest, nil
}

// Run performs the merge described by req. It always returns a result
// descriptor; on failure the descriptor carries the error and err is the
// failure itself.
func Run(ctx context.Context, req Request) (*report.Result, error) {
	req.setDefaults()
	start := req.Clock.Now()
	details := &report.Details{Sensor: req.Sensor}

	res, err := run(ctx, req, details)
	details.UTCTimestamp = start.UTC().Format(time.RFC3339Nano)
	details.ProcessingTime = req.Clock.Since(start).String()
	if err != nil {
		logging.Opsf("merge failed: %v", err)
		return report.Failure(err, details), err
	}
	return res, nil
}

func run(ctx context.Context, req Request, details *report.Details) (*report.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.WorkingSpace) == "" {
		return nil, errkind.Parsef("run", "", "no working space given")
	}
	if strings.TrimSpace(req.Sensor) == "" {
		return nil, errkind.Parsef("run", "", "no sensor given")
	}
	fsys, cfg := req.FS, req.Config

	md, err := metadata.Load(fsys, req.MetadataPath)
	if err != nil {
		return nil, err
	}
	if err := md.CheckSensor(req.Sensor); err != nil {
		return nil, err
	}
	logging.Diagf("metadata %s: plot %q sensor %q", md.Path, md.PlotID, md.Sensor)

	refs, err := selector.Select(fsys, req.Sources, req.Sensor, selector.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	details.TotalFileCount = len(refs)
	details.ProcessedFileCount = len(refs)

	workingSpace, err := filepath.Abs(req.WorkingSpace)
	if err != nil {
		return nil, errkind.IO("resolve", req.WorkingSpace, err)
	}
	if err := os.MkdirAll(workingSpace, 0755); err != nil {
		return nil, errkind.IO("create working space", workingSpace, err)
	}
	dest, err := ResolveDestination(workingSpace, req.MergeFilename, md.DefaultMergeName(), cfg.GetMergedSuffix())
	if err != nil {
		return nil, err
	}
	details.Destination = dest

	ledgerPath := filepath.Join(workingSpace, cfg.GetLedgerFile())
	lg, err := ledger.Open(ledgerPath)
	if err != nil {
		return nil, errkind.IO("open ledger", ledgerPath, err)
	}
	defer lg.Close()
	lg.SetClock(req.Clock)

	exists, err := destExists(dest)
	if err != nil {
		return nil, err
	}
	if !exists {
		if _, err := lg.Forget(ctx, dest); err != nil {
			return nil, errkind.IO("update ledger", ledgerPath, err)
		}
	}

	paths := make([]string, len(refs))
	for i, r := range refs {
		paths[i] = r.Path
	}
	pending, skipped, err := lg.Pending(ctx, dest, paths)
	if err != nil {
		return nil, errkind.IO("query ledger", ledgerPath, err)
	}
	for _, s := range skipped {
		logging.Opsf("skipping already merged LAS data: %s", s)
	}
	details.SkippedFiles = skipped

	runID, err := lg.StartRun(ctx, req.Sensor, md.PlotID, dest)
	if err != nil {
		return nil, errkind.IO("update ledger", ledgerPath, err)
	}
	details.RunID = runID

	res := &report.Result{Code: 0, Details: details}
	if len(pending) == 0 {
		logging.Opsf("nothing to merge into %s", dest)
		if exists {
			if err := summarize(req, dest, details); err != nil {
				finishRun(lg, runID, err)
				return nil, err
			}
		}
		finishRun(lg, runID, nil)
		return res, nil
	}

	stats, err := merge.MergeFiles(ctx, dest, pending, merge.Options{
		SystemIdentifier: cfg.GetSystemIdentifier(),
		Now:              req.Clock.Now,
	})
	if err != nil {
		finishRun(lg, runID, err)
		return nil, err
	}
	details.LasFileCount = len(stats.Sources)
	details.PreviousPointCount = stats.PreviousPoints
	details.PointCount = stats.TotalPoints

	records := make([]ledger.SourceRecord, len(stats.Sources))
	merged := make([]string, len(stats.Sources))
	for i, s := range stats.Sources {
		records[i] = ledger.SourceRecord{Path: s.Path, Points: s.Points}
		merged[i] = s.Path
	}
	if err := lg.RecordMerge(ctx, runID, dest, records); err != nil {
		// The points are already in dest; a re-run would merge them again.
		logging.Opsf("WARNING: merged into %s but could not record sources: %v", dest, err)
		finishRun(lg, runID, err)
		return nil, errkind.IO("update ledger", ledgerPath, err)
	}

	res.AddFile(report.NewFileEntry(dest, req.Sensor, merged, req.Clock.Now()))

	// dest and the ledger are committed; summary failures are only warnings.
	if err := summarize(req, dest, details); err != nil {
		logging.Opsf("WARNING: merged into %s but could not summarize: %v", dest, err)
		details.Warnings = append(details.Warnings, err.Error())
	}
	finishRun(lg, runID, nil)
	return res, nil
}

// summarize fills the elevation summary and, when requested, renders the
// preview image next to dest.
func summarize(req Request, dest string, details *report.Details) error {
	summary, sample, err := preview.Summarize(dest, req.Config.GetPreviewMaxPoints())
	if err != nil {
		return err
	}
	details.Elevation = summary
	details.PointCount = summary.PointCount

	if req.Preview && sample.Len() > 0 {
		out := strings.TrimSuffix(dest, filepath.Ext(dest)) + ".png"
		title := fmt.Sprintf("%s (%d points)", filepath.Base(dest), summary.PointCount)
		if err := preview.Render(sample, title, out); err != nil {
			return err
		}
		details.Preview = out
	}
	return nil
}

// destExists reports whether the merged output is on disk. The merge and the
// ledger work on the OS filesystem, so this does too.
func destExists(dest string) (bool, error) {
	switch _, err := os.Stat(dest); {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, errkind.IO("stat", dest, err)
	}
}

func finishRun(lg *ledger.Ledger, runID string, runErr error) {
	status, detail := ledger.StatusSucceeded, ""
	if runErr != nil {
		status, detail = ledger.StatusFailed, runErr.Error()
	}
	// The run outcome is recorded even when the merge context was cancelled.
	if err := lg.FinishRun(context.Background(), runID, status, detail); err != nil {
		logging.Opsf("could not record run %s outcome: %v", runID, err)
	}
}
