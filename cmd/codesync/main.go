// Command codesync applies visual edits on rendered elements back to the
// JSX/TSX sources that produced them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

const usage = `usage: codesync [flags] <command> [args]

commands:
  serve        serve MCP over stdio
  bridge       serve the editor JSON-RPC bridge over stdio
  http         serve the HTTP API
  apply        apply a batch read from a file or stdin
  encode       print the identifier of the element at a location
  decode       print the location an identifier names
  instrument   stamp identifiers on a file, or count them under a directory
  history      list recorded batches, or print one

flags:
`

func main() {
	flags := flag.NewFlagSet("codesync", flag.ExitOnError)
	dir := flags.String("C", ".", "workspace directory")
	configPath := flags.String("config", "", "config file (default <workspace root>/codesync.yaml)")
	logLevel := flags.String("log-level", "", "debug, info, warn or error (overrides CODESYNC_LOG_LEVEL)")
	logFormat := flags.String("log-format", "text", "text or json")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	flags.Parse(os.Args[1:])

	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := setup(*dir, *configPath, *logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codesync: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.run(ctx, flags.Arg(0), flags.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			flags.Usage()
			os.Exit(2)
		}
		slog.Error("command failed", "command", flags.Arg(0), "error", err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	// stdout carries protocol traffic, so logs go to stderr.
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
