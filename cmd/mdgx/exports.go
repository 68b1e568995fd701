package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wippyai/mdgx-bridge/engine"
	"github.com/wippyai/mdgx-bridge/errors"
)

func newExportsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "exports",
		Short: "check the evaluator module against the bridge ABI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := o.cfg.Evaluator.Module
			if path == "" {
				return errors.InvalidConfig("no evaluator module: set --evaluator or evaluator.module", nil)
			}
			wasm, err := os.ReadFile(path)
			if err != nil {
				return errors.Load("read "+path, err)
			}

			infos, verr := engine.Inspect(cmd.Context(), wasm)
			if infos == nil {
				return verr
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXPORT\tSTATUS\tSIGNATURE")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, exportStatus(info), info.WIT)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return verr
		},
	}
}

func exportStatus(info engine.ExportInfo) string {
	switch {
	case !info.Present && info.Optional:
		return "absent (optional)"
	case !info.Present:
		return "MISSING"
	case !info.Matches:
		return "MISMATCH " + info.Actual
	default:
		return "ok"
	}
}
