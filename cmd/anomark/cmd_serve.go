package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
)

func serveCmd() *commander.Command {
	var addr string
	cmd := &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			return serve(addr)
		},
		UsageLine: "serve [-addr <address>]",
		Short:     "serve the scoring API",
		Long: `
serve the HTTP API: models of the store can be listed, trained, imported and
exported, and newline-delimited JSON records scored against them

	$ anomark serve -addr :7279
	$ curl --data-binary @events.ndjson 'localhost:7279/api/score/cmdline?field=CommandLine'

`,
		Flag: *flag.NewFlagSet("serve", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&addr, "addr", "", "Address to listen on (default: the configured api_addr)")
	return cmd
}

// serve runs server cycles until a shutdown is requested by signal or
// through the API.
func serve(addr string) error {
	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		actionChan <- actionShutdown
	}()

	for {
		action, err := runServer(addr, actionChan)
		if err != nil {
			return err
		}
		if action != actionRestart {
			return nil
		}
	}
}

// runServer hosts the API until an action arrives on actionChan, then shuts
// it down and returns the action.
func runServer(addr string, actionChan chan string) (string, error) {
	a, err := newApp(configPath)
	if err != nil {
		return "", err
	}
	defer a.Close()

	logger := a.logger
	logger.Info("Starting server cycle...", "version", Version)

	s, err := a.Store()
	if err != nil {
		return "", err
	}

	if addr == "" {
		addr = a.config.Server.ApiAddr
	}
	server := NewServer(a.config, logger, a.db, s, actionChan)
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting api server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var action string
	select {
	case action = <-actionChan:
	case err = <-serveErr:
		return "", fmt.Errorf("api server failed: %w", err)
	}

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = httpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")
	return action, nil
}
