// Command thenchange checks if-change / then-change annotations: when the
// content of an annotated region changes, every file it names must change
// too.
//
// Usage:
//
//	thenchange check [--old REF] [--new REF] [--format text|json] [--show-diff]
//	thenchange graph [--ref REF]
//	thenchange baseline save|status|list|remove|prune
//	thenchange watch
//
// Refs are git commit-ishes or "@worktree" by default; "dir:PATH" reads a
// plain directory and "baseline:NAME" a saved baseline.
//
// Exit codes: 0 consistent, 1 violations found, 2 the check could not run.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"thenchange/internal/cache"
	"thenchange/internal/config"
	"thenchange/internal/logging"
	"thenchange/internal/snapshot"
)

const (
	exitOK         = 0
	exitViolations = 1
	exitFatal      = 2
)

// exitError carries a process exit code through cobra. A nil err exits
// silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// app is the state shared by all subcommands, filled in by the root's
// PersistentPreRunE.
type app struct {
	stdout, stderr io.Writer

	repo       string
	configPath string
	verbose    bool
	logFormat  string

	cfg *config.Config
	log *zap.Logger
	git *snapshot.Git
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.git != nil {
		if cerr := a.git.Close(); cerr != nil && a.log != nil {
			a.log.Debug("git cat-file exited", zap.Error(cerr))
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "error:", err)
	return exitFatal
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "thenchange",
		Short:         "Enforce if-change / then-change co-change annotations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.repo, "repo", "C", ".", "repository root")
	pf.StringVar(&a.configPath, "config", "", "config file (default <repo>/"+config.FileName+")")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&a.logFormat, "log-format", "", "log encoding: console or json")

	root.AddCommand(a.checkCmd(), a.graphCmd(), a.baselineCmd(), a.watchCmd())
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup() error {
	repo, err := filepath.Abs(a.repo)
	if err != nil {
		return &exitError{exitFatal, err}
	}
	a.repo = repo

	path := a.configPath
	if path == "" {
		path = filepath.Join(repo, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return &exitError{exitFatal, err}
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return &exitError{exitFatal, err}
	}
	a.cfg = cfg
	a.log = log
	a.log.Debug("configuration loaded", zap.String("path", path), zap.String("repo", repo))
	return nil
}

// store opens the baseline store named by the config.
func (a *app) store() *cache.Store {
	dir := a.cfg.BaselineDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(a.repo, dir)
	}
	return cache.NewStore(dir)
}

// provider routes plain refs to git and the dir: and baseline: schemes to
// their providers. The git provider is shared and closed by run.
func (a *app) provider() *snapshot.Router {
	dir := snapshot.NewDir(a.repo)
	dir.Walk = a.cfg.WalkOptions()

	if a.git == nil {
		a.git = snapshot.NewGit(a.repo)
		a.git.Exclude = a.cfg.Exclude
	}
	r := snapshot.NewRouter(a.git)
	r.Register("dir", dir)
	r.Register("baseline", cache.NewBaseline(a.store()))
	return r
}

// outFile returns stdout as a file when it is one, for terminal detection.
func (a *app) outFile() *os.File {
	f, _ := a.stdout.(*os.File)
	return f
}
