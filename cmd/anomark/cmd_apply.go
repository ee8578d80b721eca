package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CTAG07/anomark/pkg/ingest"
	"github.com/CTAG07/anomark/pkg/pipeline"
	"github.com/CTAG07/anomark/pkg/report"
	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
)

type applyOptions struct {
	data                string
	model               string
	column              string
	store               bool
	output              string
	color               bool
	lines               int
	silent              bool
	placeholder         bool
	filepathPlaceholder bool
	showPercentage      bool
	percent             float64
}

func applyCmd() *commander.Command {
	var opts applyOptions
	cmd := &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return runApply(ctx, a, opts)
			})
		},
		UsageLine: "apply -d <data> -m <model> [options]",
		Short:     "score every record of a data file and show the least likely ones",
		Long: `
score a column of a data file, group identical records and print the most
anomalous ones first

	$ anomark apply -d today.csv -m store:cmdline -c CommandLine --color -n 20

`,
		Flag: *flag.NewFlagSet("apply", flag.ExitOnError),
	}
	fs := &cmd.Flag
	fs.StringVar(&opts.data, "d", "", "Path of the data to score")
	fs.StringVar(&opts.data, "data", "", "Path of the data to score")
	fs.StringVar(&opts.model, "m", "", "Model to use: a JSON file or store:<name>")
	fs.StringVar(&opts.model, "model", "", "Model to use: a JSON file or store:<name>")
	fs.StringVar(&opts.column, "c", "", "Column to score (default: the configured field)")
	fs.StringVar(&opts.column, "column", "", "Column to score (default: the configured field)")
	fs.BoolVar(&opts.store, "s", false, "Store the results as CSV in results_dir")
	fs.BoolVar(&opts.store, "store", false, "Store the results as CSV in results_dir")
	fs.StringVar(&opts.output, "output", "", "Path of a CSV file to store the results in")
	fs.BoolVar(&opts.color, "color", false, "Colour the least likely characters")
	fs.IntVar(&opts.lines, "n", 0, "Number of records to display (default: the configured top_lines)")
	fs.IntVar(&opts.lines, "nLines", 0, "Number of records to display (default: the configured top_lines)")
	fs.BoolVar(&opts.silent, "silent", false, "Do not display the results")
	fs.BoolVar(&opts.placeholder, "placeholder", false, "Replace GUIDs, SIDs, user names and hashes by placeholders")
	fs.BoolVar(&opts.filepathPlaceholder, "filepath-placeholder", false, "Also replace file paths by a placeholder (with --placeholder)")
	fs.BoolVar(&opts.showPercentage, "show-percentage", false, "Display how close each score is to the threshold")
	fs.Float64Var(&opts.percent, "percent", 0, "Threshold percentage of the log prior (default: the configured threshold_percent)")
	return cmd
}

func runApply(ctx context.Context, a *app, opts applyOptions) error {
	if opts.data == "" || opts.model == "" {
		return errors.New("apply requires -d and -m")
	}
	if opts.store && opts.output != "" {
		return errors.New("'--store' and '--output' flags cannot be used at the same time")
	}
	if opts.column == "" {
		opts.column = a.config.Scoring.Field
	}
	if opts.lines == 0 {
		opts.lines = a.config.Scoring.TopLines
	}
	if opts.percent == 0 {
		opts.percent = a.config.Scoring.ThresholdPercent
	}

	m, err := a.loadModel(ctx, opts.model)
	if err != nil {
		return err
	}
	scorer, err := m.Freeze()
	if err != nil {
		return err
	}
	threshold, err := pipeline.ThresholdFor(scorer, opts.percent)
	if err != nil {
		return err
	}

	table, err := ingest.Load(opts.data, opts.column)
	if err != nil {
		return err
	}

	h := a.handler(opts.placeholder, opts.filepathPlaceholder)
	grouped, err := h.Apply(ctx, scorer, table, opts.column, pipeline.DefaultScoreColumn)
	if err != nil {
		return err
	}

	output := opts.output
	if opts.store {
		if err = os.MkdirAll(a.config.Scoring.ResultsDir, 0o755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
		output = filepath.Join(a.config.Scoring.ResultsDir, pipeline.ResultFileName(time.Now()))
	}
	if output != "" {
		header, records := grouped.Header(), grouped.Records()
		if opts.color {
			header, records = report.ColoredRecords(scorer, grouped, threshold, h.Padding())
		}
		if err = ingest.WriteCSV(output, header, records); err != nil {
			return err
		}
		a.logger.Info("Results stored", "path", output, "records", len(records))
	}

	if opts.silent {
		return nil
	}
	printer := report.NewPrinter(os.Stdout,
		report.WithColor(opts.color && report.IsTerminal(os.Stdout)),
		report.WithProximity(opts.showPercentage),
		report.WithMarker(h.Padding()),
	)
	return printer.PrintTop(scorer, grouped, threshold, opts.lines)
}
