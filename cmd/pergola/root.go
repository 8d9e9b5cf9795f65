package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "pergola",
	Short: "Pergola runs agent task graphs against a language model",
	Long: `Pergola compiles a graph of agent nodes (classification, planning, answering,
review) and drives runs of it step by step, persisting every step so a run can
be inspected or resumed later.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (default ./pergola.yaml if present)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("graph", "g", "", "Graph to run: a template name or a graph in graph_dir")
	rootCmd.PersistentFlags().String("graph-dir", "", "Directory of graph definitions")
}

// loadConfig reads the configuration and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("graph"); v != "" {
		cfg.Engine.Graph = v
	}
	if v, _ := cmd.Flags().GetString("graph-dir"); v != "" {
		cfg.Engine.GraphDir = v
	}
	return cfg, cfg.Validate()
}

// setup builds the components for a command. The caller closes them.
func setup(ctx context.Context, cmd *cobra.Command, opts ...cli.BuildOption) (*cli.Components, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cli.Build(ctx, cfg, opts...)
}

func closeQuietly(c *cli.Components) {
	if err := c.Close(context.Background()); err != nil {
		c.Logger.Warn("failed to release resources", "err", err)
	}
}
