package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/internal/presentation/graph"
	"github.com/aretw0/pergola/internal/runtime"
	"github.com/aretw0/pergola/pkg/nodes"
)

var graphCmd = &cobra.Command{
	Use:   "graph [name]",
	Short: "Export the graph as a Mermaid diagram",
	Long: `Outputs a Mermaid diagram (graph TD) of the named graph, or of the configured one.
With --run, the path the run has taken is highlighted. With --fields, a table of
the state fields each node reads and writes is printed instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run")
		fields, _ := cmd.Flags().GetBool("fields")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		c, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeQuietly(c)

		name := c.Config.Engine.Graph
		if len(args) > 0 {
			name = args[0]
		}
		def, err := c.Loader.Load(ctx, name)
		if err != nil {
			return err
		}

		if fields {
			compiled, err := runtime.Compile(def, nodes.Builtin())
			if err != nil {
				return err
			}
			printFieldUsage(cmd.OutOrStdout(), compiled.AnalyzeFields())
			return nil
		}

		var overlay *graph.GraphOverlay
		if runID != "" {
			run, err := c.Store.Load(ctx, runID)
			if err != nil {
				return err
			}
			if run.Graph != def.Name {
				return fmt.Errorf("run %s belongs to graph %q, not %q", runID, run.Graph, def.Name)
			}
			overlay = graph.OverlayFromRun(run)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(def, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("run", "", "Highlight the path of this run")
	graphCmd.Flags().Bool("fields", false, "Print which nodes read and write each state field instead")
}

func printFieldUsage(out io.Writer, u runtime.FieldUsage) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tREADERS\tWRITERS")
	for _, f := range runtime.StateFields {
		if len(u.Readers[f]) == 0 && len(u.Writers[f]) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", f, strings.Join(u.Readers[f], ","), strings.Join(u.Writers[f], ","))
	}
	_ = w.Flush()
	if len(u.Unused) > 0 {
		fmt.Fprintf(out, "\nunused: %s\n", strings.Join(u.Unused, ", "))
	}
}
