package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <run-id>",
	Short: "Show a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		c, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeQuietly(c)

		run, err := c.Store.Load(ctx, args[0])
		if err != nil {
			return err
		}
		return printRun(cmd, run, jsonMode)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("json", false, "Print the run as JSON")
}
