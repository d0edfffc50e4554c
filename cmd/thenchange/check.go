package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"thenchange/internal/engine"
	"thenchange/internal/graph"
	"thenchange/internal/region"
	"thenchange/internal/report"
	"thenchange/internal/watch"
)

type checkFlags struct {
	oldRef, newRef string
	format         string
	color          string
	showDiff       bool
	scan           string
	matching       string
	closePolicy    string
	workers        int
	diffMaxBytes   int
}

// bind registers the check flags on cmd.
func (f *checkFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.oldRef, "old", "", "old snapshot ref (default from config, HEAD)")
	fs.StringVar(&f.newRef, "new", "", "new snapshot ref (default from config, @worktree)")
	fs.StringVar(&f.format, "format", "", "output format: text or json")
	fs.StringVar(&f.color, "color", "", "color: auto, always or never")
	fs.BoolVar(&f.showDiff, "show-diff", false, "print the diff of every region that caused a violation")
	fs.StringVar(&f.scan, "scan", "", "files to read: all or changed")
	fs.StringVar(&f.matching, "matching", "", "region matching: positional or lcs")
	fs.StringVar(&f.closePolicy, "close-policy", "", "unterminated regions: strict or eof")
	fs.IntVar(&f.workers, "workers", 0, "parallel file readers (0 = GOMAXPROCS)")
	fs.IntVar(&f.diffMaxBytes, "diff-max-bytes", 0, "cap per region diff in bytes")
}

// apply copies the flags that were set onto the loaded config.
func (f *checkFlags) apply(cmd *cobra.Command, a *app) error {
	c := a.cfg
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("old", &c.OldRef, f.oldRef)
	set("new", &c.NewRef, f.newRef)
	set("format", &c.Report.Format, f.format)
	set("color", &c.Report.Color, f.color)
	set("scan", &c.Scan, f.scan)
	set("matching", &c.Matching, f.matching)
	set("close-policy", &c.ClosePolicy, f.closePolicy)
	if cmd.Flags().Changed("workers") {
		c.Workers = f.workers
	}
	if cmd.Flags().Changed("diff-max-bytes") {
		c.Report.DiffMaxBytes = f.diffMaxBytes
	}
	if cmd.Flags().Changed("show-diff") {
		c.Report.ShowDiff = f.showDiff
	}
	return c.Validate()
}

func (a *app) engine() (*engine.Engine, error) {
	opts, err := a.cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, engine.WithLogger(a.log))
	return engine.New(a.provider(), opts...), nil
}

func (a *app) reportOptions() report.Options {
	return report.Options{
		Color:        report.ColorEnabled(a.cfg.Report.Color, a.outFile()),
		ShowDiff:     a.cfg.Report.ShowDiff,
		DiffMaxBytes: a.cfg.Report.DiffMaxBytes,
	}
}

// check runs one check and renders it. It returns whether violations were
// found.
func (a *app) check(ctx context.Context, eng *engine.Engine) (bool, error) {
	res, err := eng.Run(ctx, a.cfg.OldRef, a.cfg.NewRef)
	if err != nil {
		return false, err
	}
	if err := report.Render(a.stdout, a.cfg.Report.Format, res, a.reportOptions()); err != nil {
		return false, fmt.Errorf("render report: %w", err)
	}
	return len(res.Violations) > 0, nil
}

func (a *app) checkCmd() *cobra.Command {
	var f checkFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report then-change targets that did not change along with their region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := f.apply(cmd, a); err != nil {
				return &exitError{exitFatal, err}
			}
			eng, err := a.engine()
			if err != nil {
				return &exitError{exitFatal, err}
			}
			bad, err := a.check(cmd.Context(), eng)
			if err != nil {
				return &exitError{exitFatal, err}
			}
			if bad {
				return &exitError{code: exitViolations}
			}
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

type graphDoc struct {
	Ref string `json:"ref"`
	graph.View
	Diagnostics []region.Diagnostic `json:"diagnostics"`
}

func (a *app) graphCmd() *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph of one snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ref == "" {
				ref = a.cfg.NewRef
			}
			eng, err := a.engine()
			if err != nil {
				return &exitError{exitFatal, err}
			}
			g, diags, err := eng.Graph(cmd.Context(), ref)
			if err != nil {
				return &exitError{exitFatal, err}
			}
			doc := graphDoc{Ref: ref, View: g.View(), Diagnostics: diags}
			if doc.Diagnostics == nil {
				doc.Diagnostics = []region.Diagnostic{}
			}
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(doc); err != nil {
				return &exitError{exitFatal, err}
			}
			for _, d := range diags {
				a.log.Warn("malformed annotation", zap.String("diagnostic", d.String()))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "snapshot ref (default: new_ref from config)")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	var f checkFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run check whenever the working tree changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := f.apply(cmd, a); err != nil {
				return &exitError{exitFatal, err}
			}
			eng, err := a.engine()
			if err != nil {
				return &exitError{exitFatal, err}
			}
			w := watch.New(a.repo, watch.Options{
				Debounce: a.cfg.Watch.Debounce,
				Exclude:  a.cfg.Exclude,
				Logger:   a.log,
			})
			err = w.Run(cmd.Context(), func(ctx context.Context, changed []string) error {
				if len(changed) > 0 {
					fmt.Fprintf(a.stdout, "\n--- %d changed: %s\n", len(changed), strings.Join(changed, ", "))
				}
				if _, err := a.check(ctx, eng); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					a.log.Error("check failed", zap.Error(err))
				}
				return nil
			})
			if err != nil {
				return &exitError{exitFatal, err}
			}
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}
