package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/CTAG07/anomark/pkg/store"
	"github.com/dustin/go-humanize"
	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
	"github.com/natefinch/atomic"
)

func modelsCmd() *commander.Command {
	return &commander.Command{
		UsageLine: "models <command> [options]",
		Short:     "manage the models held in the SQLite store",
		Subcommands: []*commander.Command{
			modelsListCmd(),
			modelsExportCmd(),
			modelsImportCmd(),
			modelsRemoveCmd(),
			modelsPruneCmd(),
			modelsCompactCmd(),
		},
		Flag: *flag.NewFlagSet("models", flag.ExitOnError),
	}
}

// storedModel opens the store and looks up the model called name.
func storedModel(ctx context.Context, a *app, name string) (*store.Store, store.ModelInfo, error) {
	if name == "" {
		return nil, store.ModelInfo{}, errors.New("a model name is required (-n)")
	}
	s, err := a.Store()
	if err != nil {
		return nil, store.ModelInfo{}, err
	}
	info, err := s.ModelInfo(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ModelInfo{}, fmt.Errorf("model '%s' not found in store", name)
		}
		return nil, store.ModelInfo{}, err
	}
	return s, info, nil
}

func modelsListCmd() *commander.Command {
	return &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return listModels(ctx, a, os.Stdout)
			})
		},
		UsageLine: "list",
		Short:     "list stored models with their statistics",
		Flag:      *flag.NewFlagSet("list", flag.ExitOnError),
	}
}

func listModels(ctx context.Context, a *app, out io.Writer) error {
	s, err := a.Store()
	if err != nil {
		return err
	}
	dbStats, err := s.GetStats(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tORDER\tCONTEXTS\tTRANSITIONS\tALPHABET\tTOTAL WEIGHT")
	for _, info := range dbStats.Models {
		stats := dbStats.Stats[info.Id]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\n",
			info.Name,
			info.Order,
			humanize.Comma(int64(stats.Contexts)),
			humanize.Comma(int64(stats.Transitions)),
			stats.AlphabetSize,
			humanize.FormatFloat("#,###.##", stats.TotalWeight),
		)
	}
	return tw.Flush()
}

func modelsExportCmd() *commander.Command {
	var name, file string
	cmd := &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				s, info, err := storedModel(ctx, a, name)
				if err != nil {
					return err
				}
				if file == "" {
					return s.ExportModel(ctx, info, os.Stdout)
				}
				var buf bytes.Buffer
				if err = s.ExportModel(ctx, info, &buf); err != nil {
					return err
				}
				return atomic.WriteFile(file, &buf)
			})
		},
		UsageLine: "export -n <name> [-f <file>]",
		Short:     "export a stored model as JSON",
		Flag:      *flag.NewFlagSet("export", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&name, "n", "", "Name of the stored model")
	cmd.Flag.StringVar(&file, "f", "", "File to write, standard output when empty")
	return cmd
}

func modelsImportCmd() *commander.Command {
	var name, file string
	cmd := &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if name == "" || file == "" {
					return errors.New("import requires -n and -f")
				}
				s, err := a.Store()
				if err != nil {
					return err
				}
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer func(f *os.File) {
					_ = f.Close()
				}(f)
				info, err := s.ImportModel(ctx, name, f)
				if err != nil {
					return err
				}
				a.logger.Info("Model imported", "model_name", info.Name, "order", info.Order)
				return nil
			})
		},
		UsageLine: "import -n <name> -f <file>",
		Short:     "merge a JSON model into a stored model, creating it if needed",
		Flag:      *flag.NewFlagSet("import", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&name, "n", "", "Name of the stored model")
	cmd.Flag.StringVar(&file, "f", "", "JSON model file to import")
	return cmd
}

func modelsRemoveCmd() *commander.Command {
	var name string
	cmd := &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				s, info, err := storedModel(ctx, a, name)
				if err != nil {
					return err
				}
				return s.RemoveModel(ctx, info)
			})
		},
		UsageLine: "rm -n <name>",
		Short:     "remove a stored model",
		Flag:      *flag.NewFlagSet("rm", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&name, "n", "", "Name of the stored model")
	return cmd
}

func modelsPruneCmd() *commander.Command {
	var name string
	var minWeight float64
	cmd := &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				s, info, err := storedModel(ctx, a, name)
				if err != nil {
					return err
				}
				removed, err := s.PruneModel(ctx, info, minWeight)
				if err != nil {
					return err
				}
				fmt.Printf("%s transitions removed from '%s'\n", humanize.Comma(removed), info.Name)
				return nil
			})
		},
		UsageLine: "prune -n <name> -min <weight>",
		Short:     "drop the transitions of a stored model weighing at most -min",
		Flag:      *flag.NewFlagSet("prune", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&name, "n", "", "Name of the stored model")
	cmd.Flag.Float64Var(&minWeight, "min", 1, "Transitions with this weight or less are removed")
	return cmd
}

func modelsCompactCmd() *commander.Command {
	return &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				s, err := a.Store()
				if err != nil {
					return err
				}
				removed, err := s.Compact(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%s orphan rows removed\n", humanize.Comma(removed))
				return nil
			})
		},
		UsageLine: "compact",
		Short:     "remove rows left behind by deleted models",
		Flag:      *flag.NewFlagSet("compact", flag.ExitOnError),
	}
}
