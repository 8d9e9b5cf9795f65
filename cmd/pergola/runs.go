package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/cli"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and manage stored runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		c, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeQuietly(c)

		ids, err := c.Store.List(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tGRAPH\tNODE\tSTEPS\tDONE\tUPDATED")
		for _, id := range ids {
			run, err := c.Store.Load(ctx, id)
			if err != nil {
				c.Logger.Warn("skipping unreadable run", "run_id", id, "err", err)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n", run.ID, run.Graph, run.CurrentNode, run.Steps, run.Done, run.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var runsStepCmd = &cobra.Command{
	Use:   "step <run-id>",
	Short: "Execute the next node of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		c, eng, err := engineForRun(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		defer closeQuietly(c)

		res, err := eng.Step(ctx, args[0])
		if err != nil {
			return err
		}
		run, err := eng.Inspect(ctx, args[0])
		if err != nil {
			return err
		}
		status := "next " + run.CurrentNode
		if res.Done {
			status = "done"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "executed %s, %s (step %d)\n", res.Node, status, run.Steps)
		return nil
	},
}

var runsResumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue a run until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		c, eng, err := engineForRun(ctx, cmd, args[0])
		if err != nil {
			return err
		}
		defer closeQuietly(c)

		run, err := eng.Resume(ctx, args[0])
		if err != nil {
			return err
		}
		return printRun(cmd, run, jsonMode)
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>...",
	Short: "Delete stored runs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		c, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeQuietly(c)

		for _, id := range args {
			if err := c.Store.Delete(ctx, id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsStepCmd, runsResumeCmd, runsDeleteCmd)
	runsResumeCmd.Flags().Bool("json", false, "Print the finished run as JSON")
}

// engineForRun compiles the graph the stored run was started with.
func engineForRun(ctx context.Context, cmd *cobra.Command, runID string) (*cli.Components, *pergola.Engine, error) {
	c, err := setup(ctx, cmd)
	if err != nil {
		return nil, nil, err
	}
	run, err := c.Store.Load(ctx, runID)
	if err != nil {
		closeQuietly(c)
		return nil, nil, err
	}
	if !cmd.Flags().Changed("graph") {
		c.Config.Engine.Graph = run.Graph
	}
	eng, err := c.Engine(ctx)
	if err != nil {
		closeQuietly(c)
		return nil, nil, err
	}
	return c, eng, nil
}
