package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"codesync/internal/bridge"
	"codesync/internal/config"
	"codesync/internal/engine"
	"codesync/internal/httpapi"
	"codesync/internal/identity"
	"codesync/internal/journal"
	"codesync/internal/markup"
	"codesync/internal/position"
	"codesync/internal/server"
	"codesync/internal/transform"
	"codesync/internal/workspace"
	"codesync/util"
)

var errUsage = errors.New("usage")

type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	workspace *workspace.Workspace
	journal   *journal.Journal
	engine    *engine.Engine
}

func setup(dir, configPath, logLevel, logFormat string) (*app, error) {
	root, err := util.FindGitRoot(dir)
	if err != nil {
		return nil, err
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath, false)
	} else {
		cfg, err = config.LoadDir(root)
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	logger := newLogger(level, logFormat)
	slog.SetDefault(logger)

	ws, err := workspace.Open(root, workspace.Options{Logger: logger})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, workspace: ws}
	opts := cfg.EngineOptions(logger)
	if cfg.Journal != "off" {
		if cfg.Journal != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Journal), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create journal directory: %w", err)
			}
		}
		a.journal, err = journal.Open(cfg.Journal)
		if err != nil {
			return nil, err
		}
		opts.Recorder = a.journal
	}
	a.engine = engine.New(opts)
	logger.Debug("workspace opened", "root", ws.Root(), "journal", cfg.Journal)
	return a, nil
}

func (a *app) Close() {
	a.engine.Close()
	if a.journal != nil {
		a.journal.Close()
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "serve":
		return server.New(server.Options{
			Engine:    a.engine,
			Journal:   a.journal,
			Workspace: a.workspace,
			Config:    a.cfg,
			Logger:    a.logger,
			Version:   version,
		}).Run(ctx)
	case "bridge":
		return bridge.New(bridge.Options{
			Engine:          a.engine,
			Workspace:       a.workspace,
			MarkerAttribute: a.cfg.MarkerAttribute,
			Logger:          a.logger,
		}).Serve(ctx, os.Stdin, os.Stdout)
	case "http":
		return a.serveHTTP(ctx, args)
	case "apply":
		return a.apply(ctx, args)
	case "encode":
		return a.encode(args)
	case "decode":
		return a.decode(args)
	case "instrument":
		return a.instrument(args)
	case "history":
		return a.history(ctx, args)
	}
	return errUsage
}

func (a *app) serveHTTP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("http", flag.ContinueOnError)
	listen := fs.String("listen", a.cfg.Listen, "listen address")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	svc := httpapi.New(httpapi.Options{
		Engine:          a.engine,
		Journal:         a.journal,
		Workspace:       a.workspace,
		MarkerAttribute: a.cfg.MarkerAttribute,
		Logger:          a.logger,
	})
	srv := &http.Server{
		Addr:              *listen,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	a.logger.Info("http server listening", "addr", *listen)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) apply(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	file := fs.String("f", "-", "batch file, - for stdin")
	write := fs.Bool("write", false, "store generated files in the workspace")
	inject := fs.Bool("inject", false, "also apply the configured script injection")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var r io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	var b engine.Batch
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return fmt.Errorf("parse batch: %w", err)
	}
	if *inject {
		b.Injections = append(b.Injections, a.cfg.Injections()...)
	}

	contents, err := a.workspace.Read(workspace.Sources(b))
	if err != nil {
		return err
	}
	res := a.engine.Run(ctx, b, contents)
	if *write {
		if err := a.workspace.Write(res.Diffs); err != nil {
			return err
		}
	}
	return printJSON(res)
}

func (a *app) encode(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	file := fs.String("file", "", "source file")
	line := fs.Int("line", 0, "1-based line")
	column := fs.Int("column", 0, "0-based column")
	if err := fs.Parse(args); err != nil || *file == "" || *line < 1 {
		return errUsage
	}

	path := a.workspace.Rel(*file)
	contents, err := a.workspace.Read([]string{path})
	if err != nil {
		return err
	}
	content, ok := contents[path]
	if !ok {
		return fmt.Errorf("%s: no such file", path)
	}
	tree, err := markup.Parse(path, content)
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("%s cannot carry markup", path)
	}

	id, err := transform.ElementAt(tree, position.Location{Line: *line, Column: *column})
	if err != nil {
		return err
	}
	node, err := tree.TemplateNode(id, path, util.ContentRevision(content))
	if err != nil {
		return err
	}
	s, err := identity.Encode(node)
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}

func (a *app) decode(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	node, err := identity.Decode(args[0])
	if err != nil {
		return err
	}
	return printJSON(node)
}

func (a *app) instrument(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	info, err := os.Stat(args[0])
	if err != nil {
		return err
	}
	if !info.IsDir() {
		path := a.workspace.Rel(args[0])
		contents, err := a.workspace.Read([]string{path})
		if err != nil {
			return err
		}
		out, _, err := transform.Instrument(path, contents[path], a.cfg.MarkerAttribute)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	files, err := a.workspace.MarkupFiles(args[0])
	if err != nil {
		return err
	}
	contents, err := a.workspace.Read(files)
	if err != nil {
		return err
	}
	for _, path := range files {
		_, n, err := transform.Instrument(path, contents[path], a.cfg.MarkerAttribute)
		if err != nil {
			a.logger.Warn("skipping file", "path", path, "error", err)
			continue
		}
		fmt.Printf("%6d  %s\n", n, path)
	}
	return nil
}

func (a *app) history(ctx context.Context, args []string) error {
	if a.journal == nil {
		return errors.New("batch journal is disabled")
	}
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of batches to list")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 1 {
		res, err := a.journal.Get(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	list, err := a.journal.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	for _, s := range list {
		fmt.Printf("%s  %s  %d diffs  %d failures\n", s.BatchID, s.CreatedAt.Format(time.RFC3339), s.Diffs, s.Failures)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
