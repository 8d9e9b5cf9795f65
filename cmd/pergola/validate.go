package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/internal/runtime"
	"github.com/aretw0/pergola/pkg/adapters/loam"
	"github.com/aretw0/pergola/pkg/nodes"
	"github.com/aretw0/pergola/pkg/ports"
)

var validateCmd = &cobra.Command{
	Use:   "validate [graph...]",
	Short: "Check graphs for consistency",
	Long: `Compiles each named graph (every known graph when none is named) and reports
unknown node kinds, dangling edges, unreachable nodes and invalid node configuration.

With --watch on a Loam graph directory, graphs are re-validated as they change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		c, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeQuietly(c)

		names := args
		if len(names) == 0 {
			if names, err = c.Loader.List(ctx); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()
		failed := validateGraphs(ctx, out, c.Loader, names)

		if !watch {
			if failed > 0 {
				return fmt.Errorf("%d of %d graphs are invalid", failed, len(names))
			}
			return nil
		}

		if c.Config.Engine.Loader != "loam" || c.Config.Engine.GraphDir == "" {
			return errors.New("--watch requires a loam graph directory (engine.loader: loam)")
		}
		watcher, err := loam.Open(c.Config.Engine.GraphDir)
		if err != nil {
			return err
		}
		changes, err := watcher.Watch(ctx)
		if err != nil {
			return err
		}
		c.Logger.Info("watching for graph changes", "dir", c.Config.Engine.GraphDir)
		for name := range changes {
			validateGraphs(ctx, out, c.Loader, []string{name})
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolP("watch", "w", false, "Re-validate graphs when their files change")
}

// validateGraphs reports each graph and returns how many failed.
func validateGraphs(ctx context.Context, out io.Writer, loader ports.GraphLoader, names []string) int {
	registry := nodes.Builtin()
	failed := 0
	for _, name := range names {
		def, err := loader.Load(ctx, name)
		if err == nil {
			_, err = runtime.Compile(def, registry)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s\n%v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%d nodes, %d edges)\n", name, len(def.Nodes), len(def.Edges))
	}
	return failed
}
