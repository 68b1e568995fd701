package main

import (
	"fmt"
	"path/filepath"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/wippyai/mdgx-bridge/binding"
	"github.com/wippyai/mdgx-bridge/restraints"
)

func newEvalCmd(o *options) *cobra.Command {
	var (
		sitesPath string
		showGrads bool
		plot      bool
	)
	cmd := &cobra.Command{
		Use:   "eval <prmtop> <inpcrd>",
		Short: "evaluate energy and gradients of a system at a set of sites",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sites, err := readSites(sitesPath)
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

			h, err := mod.NewUform(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			th, _ := mod.Handle(h)

			e, err := restraints.NewManager(mod.Bind(h)).EnergiesSites(ctx, sites, true)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d atoms\n", filepath.Base(args[0]), th.AtomCount())
			if err := e.Show(out); err != nil {
				return err
			}
			fmt.Fprintf(out, "    gradient rms: %0.4f\n", e.GRMS())
			if showGrads {
				if err := mod.PrintVec(out, e.Gradients); err != nil {
					return err
				}
			}
			if plot {
				fmt.Fprintln(out, plotNorms(atomNorms(e.Gradients), "per-atom gradient norm"))
			}
			return mod.Release(ctx, h)
		},
	}
	cmd.Flags().StringVar(&sitesPath, "sites", "", "sites file: whitespace-separated coordinates, three per atom")
	cmd.Flags().BoolVar(&showGrads, "gradients", false, "print the gradient vector")
	cmd.Flags().BoolVar(&plot, "plot", false, "plot per-atom gradient norms")
	_ = cmd.MarkFlagRequired("sites")
	return cmd
}

func plotNorms(norms []float64, caption string) string {
	if len(norms) == 1 {
		norms = []float64{norms[0], norms[0]}
	}
	width := len(norms)
	if width > 80 {
		width = 80
	}
	return asciigraph.Plot(norms,
		asciigraph.Height(10),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
}
