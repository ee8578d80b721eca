package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// configPath is set by the root -config flag.
var configPath string

func newRootCmd() *commander.Command {
	cmd := &commander.Command{
		UsageLine: "anomark <command> [options]",
		Short:     "train character-level Markov models and score records against them",
		Subcommands: []*commander.Command{
			trainCSVCmd(),
			trainTxtCmd(),
			applyCmd(),
			simulateCmd(),
			modelsCmd(),
			serveCmd(),
			versionCmd(),
		},
		Flag: *flag.NewFlagSet("anomark", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&configPath, "config", "./anomark.json", "Path to the configuration file (.json, .yaml or .yml)")
	return cmd
}

func versionCmd() *commander.Command {
	return &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			fmt.Printf("anomark %s (commit %s, built %s)\n", Version, Commit, BuildDate)
			return nil
		},
		UsageLine: "version",
		Short:     "print build information",
		Flag:      *flag.NewFlagSet("version", flag.ExitOnError),
	}
}

// newLogger builds the process logger. Unknown levels fall back to info and
// any format other than "json" gives the text handler.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	root := newRootCmd()
	if err := root.Flag.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "**err**: %v\n", err)
		os.Exit(1)
	}

	args := root.Flag.Args()
	if len(args) == 0 {
		args = []string{"help"}
	}
	if err := root.Dispatch(args); err != nil {
		fmt.Fprintf(os.Stderr, "**err**: %v\n", err)
		os.Exit(1)
	}
}
