package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
)

type simulateOptions struct {
	model  string
	length int
	start  string
	count  int
	seed   int64
}

func simulateCmd() *commander.Command {
	var opts simulateOptions
	cmd := &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				return runSimulate(ctx, a, opts)
			})
		},
		UsageLine: "simulate -m <model> [options]",
		Short:     "generate text by walking a model",
		Flag:      *flag.NewFlagSet("simulate", flag.ExitOnError),
	}
	fs := &cmd.Flag
	fs.StringVar(&opts.model, "m", "", "Model to use: a JSON file or store:<name>")
	fs.StringVar(&opts.model, "model", "", "Model to use: a JSON file or store:<name>")
	fs.IntVar(&opts.length, "l", 100, "Length of each generated string")
	fs.StringVar(&opts.start, "s", "", "Seed of the generation (default: a random context of the model)")
	fs.IntVar(&opts.count, "n", 1, "Number of strings to generate")
	fs.Int64Var(&opts.seed, "seed", 0, "Random seed, 0 for a random one")
	return cmd
}

func runSimulate(ctx context.Context, a *app, opts simulateOptions) error {
	if opts.model == "" {
		return errors.New("simulate requires -m")
	}
	if opts.length < 0 || opts.count < 1 {
		return errors.New("simulate requires -l >= 0 and -n >= 1")
	}

	m, err := a.loadModel(ctx, opts.model)
	if err != nil {
		return err
	}
	scorer, err := m.Freeze()
	if err != nil {
		return err
	}

	seed := uint64(opts.seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	for i := 0; i < opts.count; i++ {
		if _, err = fmt.Fprintln(os.Stdout, scorer.Simulate(rng, opts.length, opts.start)); err != nil {
			return err
		}
	}
	return nil
}
