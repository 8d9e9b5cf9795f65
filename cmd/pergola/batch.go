package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run one task per input line",
	Long: `Reads one input per non-empty line of file ("-" for stdin), runs them
concurrently and prints one JSON result per line in input order.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := readLines(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		maxIterations, _ := cmd.Flags().GetInt("max-iterations")

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

		results, err := cli.RunBatch(ctx, eng, inputs, maxIterations, concurrency)
		enc := json.NewEncoder(cmd.OutOrStdout())
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
			if encErr := enc.Encode(r); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d runs failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntP("concurrency", "j", 4, "Runs in flight at once")
	batchCmd.Flags().IntP("max-iterations", "n", 0, "Iteration ceiling of each run (0 uses the configured default)")
}

func readLines(stdin io.Reader, name string) ([]string, error) {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
