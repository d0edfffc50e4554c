package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"thenchange/internal/cache"
)

func (a *app) baselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Save and inspect snapshots to check against later (ref baseline:NAME)",
	}
	cmd.AddCommand(a.baselineSaveCmd(), a.baselineStatusCmd(), a.baselineListCmd(), a.baselineRemoveCmd(), a.baselinePruneCmd())
	return cmd
}

func (a *app) baselineSaveCmd() *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "save NAME",
		Short: "Capture a snapshot into the baseline store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ref == "" {
				ref = a.cfg.NewRef
			}
			idx, err := cache.Capture(cmd.Context(), a.provider(), ref, args[0], a.store(), a.cfg.Workers)
			if err != nil {
				return &exitError{exitFatal, err}
			}
			a.log.Info("baseline saved", zap.String("name", idx.Name), zap.String("ref", ref), zap.Int("files", len(idx.Files)))
			fmt.Fprintf(a.stdout, "saved baseline %s (%d files from %s)\n", idx.Name, len(idx.Files), ref)
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "snapshot to capture (default: new_ref from config)")
	return cmd
}

func (a *app) baselineStatusCmd() *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "status NAME",
		Short: "List files that differ between a baseline and a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ref == "" {
				ref = a.cfg.NewRef
			}
			prev, err := a.store().Load(args[0])
			if err != nil {
				return &exitError{exitFatal, err}
			}
			curr, err := cache.Describe(cmd.Context(), a.provider(), ref, "", nil, a.cfg.Workers)
			if err != nil {
				return &exitError{exitFatal, err}
			}
			d := cache.BuildDelta(prev, curr)
			if d.Empty() {
				fmt.Fprintf(a.stdout, "no changes since baseline %s\n", prev.Name)
				return nil
			}
			for _, e := range d.Added {
				fmt.Fprintf(a.stdout, "A %s\n", e.Path)
			}
			for _, c := range d.Changed {
				fmt.Fprintf(a.stdout, "M %s\n", c.Path)
			}
			for _, e := range d.Removed {
				fmt.Fprintf(a.stdout, "D %s\n", e.Path)
			}
			for _, r := range d.Renamed {
				fmt.Fprintf(a.stdout, "R %s -> %s\n", r.From, r.To)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "snapshot to compare (default: new_ref from config)")
	return cmd
}

func (a *app) baselineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved baselines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := a.store()
			names, err := store.Names()
			if err != nil {
				return &exitError{exitFatal, err}
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSOURCE\tFILES\tCREATED")
			for _, n := range names {
				idx, err := store.Load(n)
				if err != nil {
					a.log.Warn("unreadable baseline", zap.String("name", n), zap.Error(err))
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", idx.Name, idx.Source, len(idx.Files), idx.Created)
			}
			return tw.Flush()
		},
	}
}

func (a *app) baselineRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete a baseline index (run prune to reclaim blobs)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store().Remove(args[0]); err != nil {
				return &exitError{exitFatal, err}
			}
			fmt.Fprintf(a.stdout, "removed baseline %s\n", args[0])
			return nil
		},
	}
}

func (a *app) baselinePruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete blobs no baseline references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.store().Prune()
			if err != nil {
				return &exitError{exitFatal, err}
			}
			fmt.Fprintf(a.stdout, "pruned %d blobs\n", n)
			return nil
		},
	}
}
