package main

import (
	"context"
	"fmt"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/mdgx-bridge/binding"
	"github.com/wippyai/mdgx-bridge/config"
	"github.com/wippyai/mdgx-bridge/restraints"
)

type batchResult struct {
	err      error
	name     string
	atoms    int
	energies *restraints.Energies
}

func newBatchCmd(o *options) *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   "batch <manifest.yaml>",
		Short: "evaluate every system in a manifest, one handle each",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			manifest, err := config.LoadManifest(args[0])
			if err != nil {
				return err
			}

			eng, err := o.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close(ctx)

			mod := binding.New(binding.FromEngine(eng))
			defer mod.Close(ctx)

			results := make([]batchResult, len(manifest.Systems))
			var g errgroup.Group
			g.SetLimit(max(jobs, 1))
			for i, sys := range manifest.Systems {
				g.Go(func() error {
					results[i] = evalSystem(ctx, mod, sys)
					if err := results[i].err; err != nil {
						o.logger.Warn("system failed", zap.String("system", sys.Name), zap.Error(err))
					}
					return nil
				})
			}
			_ = g.Wait()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SYSTEM\tATOMS\tENERGY\tGRMS\tSTATUS")
			failed := 0
			for _, r := range results {
				if r.err != nil {
					failed++
					fmt.Fprintf(tw, "%s\t-\t-\t-\t%v\n", r.name, r.err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%0.4f\t%0.4f\tok\n", r.name, r.atoms, r.energies.ResidualSum, r.energies.GRMS())
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d systems failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&jobs, "jobs", runtime.NumCPU(), "systems evaluated concurrently")
	return cmd
}

// evalSystem runs one system through the binding surface and releases its
// handle before returning.
func evalSystem(ctx context.Context, mod *binding.Module, sys config.System) batchResult {
	res := batchResult{name: sys.Name}

	sites, err := readSites(sys.Sites)
	if err != nil {
		res.err = err
		return res
	}

	h, err := mod.NewUform(ctx, sys.Topology, sys.Coordinates)
	if err != nil {
		res.err = err
		return res
	}
	defer mod.Release(ctx, h)

	e, err := restraints.NewManager(mod.Bind(h)).EnergiesSites(ctx, sites, true)
	if err != nil {
		res.err = err
		return res
	}
	if th, ok := mod.Handle(h); ok {
		res.atoms = th.AtomCount()
	}
	res.energies = e
	return res
}
