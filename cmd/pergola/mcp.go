package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/pergola/internal/cli"
	"github.com/aretw0/pergola/pkg/adapters/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the engine as an MCP Server so other agents can run tasks as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")

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
		srv := mcp.NewServer(eng, mcp.WithLogger(c.Logger))

		switch transport {
		case "stdio":
			// Ensure logs don't corrupt JSON-RPC on Stdout
			log.SetOutput(os.Stderr)
			c.Logger.Info("starting pergola MCP server", "transport", "stdio")
			return srv.ServeStdio()
		case "sse":
			if addr == "" {
				addr = c.Config.Server.Addr
			}
			c.Logger.Info("starting pergola MCP server", "transport", "sse", "addr", addr)
			if err := srv.ServeSSE(ctx, addr); err != nil {
				return err
			}
			c.Logger.Info("MCP server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport %q, supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", "", "Address to listen on (only for SSE, defaults to server.addr)")
}
