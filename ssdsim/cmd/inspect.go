package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sarchlab/ssdsim/sim/stateful"
	"github.com/sarchlab/ssdsim/ssd/ftl"
)

type inspectResult struct {
	Dir        string      `json:"dir"`
	Consistent bool        `json:"consistent"`
	Problem    string      `json:"problem,omitempty"`
	Report     ftl.Summary `json:"report"`
}

func newInspectCommand(a *app) *cobra.Command {
	var blocks bool

	inspectCmd := &cobra.Command{
		Use:   "inspect STATE_DIR",
		Short: "Restore a saved engine, verify its tables and print its statistics.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if !stateful.NewDir(dir).Exists() {
				return errors.Errorf("no saved state in %s", dir)
			}

			e, err := a.buildEngine(dir, false)
			if err != nil {
				return err
			}
			defer e.Shutdown()

			res := inspectResult{Dir: dir, Consistent: true}
			if err := e.Check(); err != nil {
				res.Consistent = false
				res.Problem = err.Error()
			}
			res.Report = e.Report()

			if blocks {
				if err := printBlockTable(cmd.OutOrStdout(), e); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}

			if !res.Consistent {
				return errors.New("saved state is inconsistent")
			}

			return nil
		},
	}

	inspectCmd.Flags().BoolVar(&blocks, "blocks", false,
		"also list every block with its valid pages and erase count")

	return inspectCmd
}

func printBlockTable(w io.Writer, e *ftl.Engine) error {
	g := e.Geometry()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "FLASH\tBLOCK\tTYPE\tVALID\tERASES")
	for flash := 0; flash < g.Flashes; flash++ {
		for block := 0; block < g.BlocksPerFlash; block++ {
			b := e.Block(flash, block)
			fmt.Fprintf(tw, "%d\t%d\t%v\t%d\t%d\n",
				flash, block, b.Type, b.ValidPageCount, b.EraseCount)
		}
	}

	return tw.Flush()
}
