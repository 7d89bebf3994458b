package commands

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newConnectorsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List the DRM connectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, drmTransport, err := opts.edidManager()
			if err != nil {
				return printError(cmd, "Unable to load configuration", err)
			}
			connectors, err := drmTransport.ListConnectors()
			if err != nil {
				return printError(cmd, "Unable to list connectors", err)
			}
			if len(connectors) == 0 {
				printWarning(cmd, "No connector found under %s", drmTransport.Root())
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCARD\tID\tSTATUS\tEDID")
			for _, c := range connectors {
				id := "-"
				if c.ConnectorId != nil {
					id = fmt.Sprintf("%d", *c.ConnectorId)
				}
				status := "disconnected"
				if c.Connected {
					status = "connected"
				}
				edidState := "no"
				if c.EdidPresent {
					edidState = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Name, c.Card, id, status, edidState)
			}
			return w.Flush()
		},
	}
}

func newTargetsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "targets",
		Aliases: []string{"buses"},
		Short:   "List the connectors and DDC buses exposing an EDID",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			edidManager, _, err := opts.edidManager()
			if err != nil {
				return printError(cmd, "Unable to load configuration", err)
			}
			found := edidManager.Discover(cmd.Context())
			names := make([]string, 0, len(found))
			for name := range found {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				targets := found[name]
				if len(targets) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: none\n", name)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, strings.Join(targets, " "))
			}
			return nil
		},
	}
}
