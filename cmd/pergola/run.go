package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/internal/presentation/tui"
	"github.com/aretw0/pergola/pkg/domain"
)

var runCmd = &cobra.Command{
	Use:   "run [input...]",
	Short: "Run a task to completion",
	Long: `Starts a run for the input and steps it until the graph reaches its end node.
The input is read from stdin when no arguments are given.

An interrupted run stays persisted and can be continued with 'pergola runs resume'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := readInput(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		maxIterations, _ := cmd.Flags().GetInt("max-iterations")
		jsonMode, _ := cmd.Flags().GetBool("json")
		quiet, _ := cmd.Flags().GetBool("quiet")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		c, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeQuietly(c)

		eng, err := c.Engine(ctx)
		if err != nil {
			return err
		}

		if !quiet && !jsonMode && tui.IsTerminal(os.Stderr) {
			tui.PrintBanner(os.Stderr)
		}

		runID, err := eng.StartRun(ctx, input, maxIterations)
		if err != nil {
			return err
		}
		run, err := eng.Resume(ctx, runID)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Signal() != nil {
				return fmt.Errorf("interrupted by %v; continue with: pergola runs resume %s", ctx.Signal(), runID)
			}
			return err
		}
		return printRun(cmd, run, jsonMode)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntP("max-iterations", "n", 0, "Iteration ceiling of the run (0 uses the configured default)")
	runCmd.Flags().Bool("json", false, "Print the finished run as JSON")
	runCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	input := strings.TrimSpace(string(data))
	if input == "" {
		return "", errors.New("input is required")
	}
	return input, nil
}

func printRun(cmd *cobra.Command, run *domain.Run, jsonMode bool) error {
	out := cmd.OutOrStdout()
	if jsonMode {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	var p *tui.Printer
	if f, ok := out.(*os.File); ok {
		p = tui.NewPrinter(f)
	} else {
		p = &tui.Printer{Out: out}
	}
	p.Run(run)
	return nil
}
