// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/sessionkeeper/internal/transition"
)

var transitionsKind string

func init() {
	cmd := &cobra.Command{
		Use:   "transitions",
		Short: "Print the legal state transitions",
		RunE: func(c *cobra.Command, _ []string) error {
			return printTransitions(c.OutOrStdout(), transition.DefaultTable(), transitionsKind)
		},
	}
	cmd.Flags().StringVar(&transitionsKind, "kind", "", "Only print this machine (session, job, peer-connection)")
	rootCmd.AddCommand(cmd)
}

func printTransitions(w io.Writer, table transition.Table, only string) error {
	kinds := table.Kinds()
	if only != "" {
		if _, ok := table[transition.Kind(only)]; !ok {
			return fmt.Errorf("unknown state machine: %s", only)
		}
		kinds = []transition.Kind{transition.Kind(only)}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, kind := range kinds {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s\n", kind)
		for _, from := range table.States(kind) {
			if table.Terminal(kind, from) {
				fmt.Fprintf(tw, "  %s\t(terminal)\n", from)
				continue
			}
			targets := table.Targets(kind, from)
			names := make([]string, len(targets))
			for j, to := range targets {
				names[j] = string(to)
			}
			fmt.Fprintf(tw, "  %s\t-> %s\n", from, strings.Join(names, ", "))
		}
	}
	return tw.Flush()
}
