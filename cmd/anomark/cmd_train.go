package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/CTAG07/anomark/pkg/ingest"
	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
)

// trainOptions holds the flags shared by the training commands.
type trainOptions struct {
	data                string
	column              string
	countColumn         string
	order               int
	output              string
	lines               int
	percentage          float64
	fromEnd             bool
	randomize           bool
	placeholder         bool
	filepathPlaceholder bool
	resume              bool
	model               string
}

func (o *trainOptions) register(fs *flag.FlagSet) {
	fs.StringVar(&o.data, "d", "", "Path of the data to train on")
	fs.StringVar(&o.data, "data", "", "Path of the data to train on")
	fs.IntVar(&o.order, "o", 0, "Order of the model, the number of characters in a context")
	fs.IntVar(&o.order, "order", 0, "Order of the model, the number of characters in a context")
	fs.StringVar(&o.output, "output", "", "Where to write the model: a JSON file or store:<name> (default: timestamped file in models_dir)")
	fs.BoolVar(&o.placeholder, "placeholder", false, "Replace GUIDs, SIDs, user names and hashes by placeholders")
	fs.BoolVar(&o.filepathPlaceholder, "filepath-placeholder", false, "Also replace file paths by a placeholder (with --placeholder)")
	fs.BoolVar(&o.resume, "resume", false, "Continue training the model given with -m")
	fs.StringVar(&o.model, "m", "", "Model to resume: a JSON file or store:<name>")
	fs.StringVar(&o.model, "model", "", "Model to resume: a JSON file or store:<name>")
}

func trainCSVCmd() *commander.Command {
	var opts trainOptions
	cmd := &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return runTrainCSV(ctx, a, opts)
			})
		},
		UsageLine: "train-csv -d <data> -c <column> -o <order> [options]",
		Short:     "train a model on a column of a CSV file",
		Long: `
train a model on one column of a CSV file, each record being padded on both sides

	$ anomark train-csv -d commands.csv -c CommandLine -o 4 --output store:cmdline

`,
		Flag: *flag.NewFlagSet("train-csv", flag.ExitOnError),
	}
	opts.register(&cmd.Flag)
	cmd.Flag.StringVar(&opts.column, "c", "", "Name of the column to train on")
	cmd.Flag.StringVar(&opts.column, "column", "", "Name of the column to train on")
	cmd.Flag.StringVar(&opts.countColumn, "cc", "", "Name of the column holding record counts, if any")
	cmd.Flag.StringVar(&opts.countColumn, "count-column", "", "Name of the column holding record counts, if any")
	cmd.Flag.IntVar(&opts.lines, "n", 0, "Number of lines to take from the data")
	cmd.Flag.Float64Var(&opts.percentage, "p", 0, "Share of the lines to take, in percent")
	cmd.Flag.Float64Var(&opts.percentage, "percentage", 0, "Share of the lines to take, in percent")
	cmd.Flag.BoolVar(&opts.fromEnd, "fromEnd", false, "Take the lines from the end of the data")
	cmd.Flag.BoolVar(&opts.randomize, "r", false, "Draw the -n lines at random")
	cmd.Flag.BoolVar(&opts.randomize, "randomize", false, "Draw the -n lines at random")
	return cmd
}

func runTrainCSV(ctx context.Context, a *app, opts trainOptions) error {
	if opts.data == "" || opts.column == "" {
		return errors.New("train-csv requires -d and -c")
	}

	table, err := ingest.Load(opts.data, opts.column)
	if err != nil {
		return err
	}
	table, err = ingest.Select(table, ingest.SelectOptions{
		Lines:      opts.lines,
		Percentage: opts.percentage,
		FromEnd:    opts.fromEnd,
		Randomize:  opts.randomize,
	})
	if err != nil {
		return err
	}

	m, err := a.startModel(ctx, opts.resume, opts.model, opts.order)
	if err != nil {
		return err
	}

	a.logger.Info("Training on data...", "path", opts.data, "column", opts.column, "order", m.Order())
	h := a.handler(opts.placeholder, opts.filepathPlaceholder)
	records, err := h.TrainTable(ctx, m, table, opts.column, opts.countColumn)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	path, err := a.saveModel(ctx, opts.output, m)
	if err != nil {
		return err
	}
	a.logger.Info("Model saved", "path", path, "records", records, "order", m.Order())
	return nil
}

func trainTxtCmd() *commander.Command {
	var opts trainOptions
	cmd := &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return runTrainTxt(ctx, a, opts)
			})
		},
		UsageLine: "train-txt -d <data> -o <order> [options]",
		Short:     "train a model on the raw content of a text file",
		Long: `
train a model on a whole text file read as one sequence, without padding

	$ anomark train-txt -d corpus.txt -o 3

`,
		Flag: *flag.NewFlagSet("train-txt", flag.ExitOnError),
	}
	opts.register(&cmd.Flag)
	return cmd
}

func runTrainTxt(ctx context.Context, a *app, opts trainOptions) error {
	if opts.data == "" {
		return errors.New("train-txt requires --data to train on")
	}
	data, err := os.ReadFile(opts.data)
	if err != nil {
		return err
	}

	m, err := a.startModel(ctx, opts.resume, opts.model, opts.order)
	if err != nil {
		return err
	}

	a.logger.Info("Training on data...", "path", opts.data, "order", m.Order())
	a.handler(opts.placeholder, opts.filepathPlaceholder).TrainText(m, string(data))

	path, err := a.saveModel(ctx, opts.output, m)
	if err != nil {
		return err
	}
	a.logger.Info("Model saved", "path", path, "order", m.Order())
	return nil
}

// withApp runs fn with a freshly loaded app and a context cancelled on
// SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := commandContext()
	defer stop()
	return fn(ctx, a)
}
