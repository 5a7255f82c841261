// Command plotmerge merges the LAS point clouds of one plot and sensor into
// a single LAS file in a working space.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/plotmerge/internal/config"
	"github.com/banshee-data/plotmerge/internal/fsutil"
	"github.com/banshee-data/plotmerge/internal/logging"
	"github.com/banshee-data/plotmerge/internal/report"
	"github.com/banshee-data/plotmerge/internal/transformer"
	"github.com/banshee-data/plotmerge/internal/version"
)

const usage = `plotmerge - merge a plot's LAS files for one sensor

Usage: plotmerge [flags] <sensor_name> <source> [<source>...]

Each source is a LAS file or a directory searched recursively. Files whose
path contains the sensor name are merged into
<working_space>/<name>_merged.las, where <name> comes from --merge_filename
or, by default, from the plot and sensor in the metadata file.

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("plotmerge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		workingSpace  = fs.String("working_space", "", "Directory that receives the merged file (required)")
		metadataPath  = fs.String("metadata", "", "Plot metadata JSON file (required)")
		mergeFilename = fs.String("merge_filename", "", "Override of the merged output name")
		configPath    = fs.String("config", "", "Optional merge configuration JSON file")
		resultPath    = fs.String("result", "", "Result descriptor path (default <working_space>/result.json)")
		withPreview   = fs.Bool("preview", false, "Render a PNG preview of the merged cloud")
		debug         = fs.Bool("debug", false, "Enable diagnostic and trace logging")
		showVersion   = fs.Bool("version", false, "Print version and exit")
	)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return report.ExitOK
		}
		return report.ExitParse
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return report.ExitOK
	}

	writers := logging.LogWriters{Ops: stderr}
	if *debug {
		writers.Diag = stderr
		writers.Trace = stderr
	}
	logging.SetLogWriters(writers)

	if fs.NArg() < 2 || *workingSpace == "" || *metadataPath == "" {
		fmt.Fprintln(stderr, "plotmerge: --working_space, --metadata, a sensor name and at least one source are required")
		fs.Usage()
		return report.ExitParse
	}

	cfg := config.EmptyMergeConfig()
	if *configPath != "" {
		loaded, err := config.LoadMergeConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "plotmerge: %v\n", err)
			return report.ExitParse
		}
		cfg = loaded
	}

	req := transformer.Request{
		WorkingSpace:  *workingSpace,
		MetadataPath:  *metadataPath,
		MergeFilename: *mergeFilename,
		Sensor:        fs.Arg(0),
		Sources:       fs.Args()[1:],
		Preview:       *withPreview,
		Config:        cfg,
		FS:            fsutil.OSFileSystem{},
	}
	logging.Opsf("%s: merging %s from %d source(s) into %s", version.GeneratingSoftware(), req.Sensor, len(req.Sources), req.WorkingSpace)

	res, runErr := transformer.Run(ctx, req)

	out := *resultPath
	if out == "" {
		out = transformer.ResultPath(req)
	}
	if abs, err := filepath.Abs(out); err == nil {
		out = abs
	}
	if err := report.Write(req.FS, out, res); err != nil {
		fmt.Fprintf(stderr, "plotmerge: %v\n", err)
		if runErr == nil {
			return report.ExitCode(err)
		}
	}

	if runErr != nil {
		fmt.Fprintf(stderr, "plotmerge: %v\n", runErr)
		return report.ExitCode(runErr)
	}
	d := res.Details
	fmt.Fprintf(stdout, "merged %d file(s) into %s: %d points (%d skipped as already merged)\n",
		d.LasFileCount, d.Destination, d.PointCount, len(d.SkippedFiles))
	return report.ExitOK
}
