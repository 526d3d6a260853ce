package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/structs"
	"github.com/spf13/cobra"

	"github.com/sarchlab/ssdsim/ssd/geometry"
)

func newGeometryCommand(a *app) *cobra.Command {
	var output string

	geometryCmd := &cobra.Command{
		Use:   "geometry",
		Short: "Print the derived constants of the configured device.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.cfg.GeometryOf()
			if err != nil {
				return err
			}

			switch output {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(g)
			case "table":
				return printGeometryTable(cmd.OutOrStdout(), g)
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}

	geometryCmd.Flags().StringVarP(&output, "output", "o", "table",
		"output format: table or json")

	return geometryCmd
}

// printGeometryTable lists the raw parameters followed by the derived
// constants, one per line.
func printGeometryTable(w io.Writer, g geometry.Geometry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	for _, f := range structs.New(g).Fields() {
		if f.IsEmbedded() {
			for _, inner := range f.Fields() {
				fmt.Fprintf(tw, "%s\t%v\n", inner.Name(), inner.Value())
			}

			continue
		}

		fmt.Fprintf(tw, "%s\t%v\n", f.Name(), f.Value())
	}

	return tw.Flush()
}
