// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/gomlx/graphfuse/fusion"
	"github.com/gomlx/graphfuse/graphio"
	"github.com/spf13/cobra"
)

// NewDumpCommand creates the dump command, printing a graph without rewriting it.
func NewDumpCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "dump <graph.yaml>",
		Short:        "Print a graph in text form",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := graphio.ReadFile(args[0])
			if err != nil {
				return err
			}
			return g.Dump(cmd.OutOrStdout())
		},
	}
}

// NewPassesCommand creates the passes command, listing the default pipeline.
func NewPassesCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "passes",
		Short: "List the fusion passes, in default order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range fusion.DefaultPassNames {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
