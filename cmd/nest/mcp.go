package main

import (
	"context"
	"errors"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/nestapp/nest/internal/api"
	"github.com/nestapp/nest/internal/config"
	"github.com/nestapp/nest/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the family profile over MCP (stdio transport)",
	Long: `Expose the family profile and content rendering to MCP-capable
assistants over stdio. Intended to be launched by the assistant, not
interactively.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		initLogging(cfg.Log.Level)

		client := api.New(cfg.API.BaseURL, cfg.API.Token)
		srv := mcp.NewServer(mcp.Deps{Backend: client})

		stdio := server.NewStdioServer(srv)
		if err := stdio.Listen(cmd.Context(), os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
