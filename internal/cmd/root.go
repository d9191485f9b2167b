package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noot-app/foodfit-server/internal/auth"
	"github.com/noot-app/foodfit-server/internal/config"
	"github.com/noot-app/foodfit-server/internal/mcpgo"
	"github.com/noot-app/foodfit-server/internal/server"
)

const rootLong = `FoodFit resolves scanned barcodes to normalized nutrition facts and scores
products from 0 to 100 against a personal dietary profile.

Lookups walk a curated dataset, USDA FoodData Central and Open Food Facts in
that order, retrying alternate barcode shapes, with per-provider rate limits
and a shared resolution cache.

The server operates in three modes:

1. HTTP Mode (default): For remote deployment
   - MCP over streamable HTTP at /mcp
   - Requires Bearer token authentication (except /health)

2. STDIO Mode (--stdio): For local MCP clients
   - Uses stdio pipes for communication
   - No authentication required

3. Fetch Database Mode (--fetch-db): Download the Open Food Facts parquet
   snapshot used by OFF_SOURCE=parquet and exit

Available MCP Tools:
- resolve_product: Resolve one barcode
- resolve_products: Resolve up to 25 barcodes
- score_product: Resolve a barcode and score it for a profile

Authentication (HTTP Mode Only):
Set the bearer token with the AUTH_TOKEN environment variable.`

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "foodfit-server",
		Short:        "Barcode resolution and personalized food scoring over MCP",
		Long:         rootLong,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fetchDB, _ := cmd.Flags().GetBool("fetch-db")
			if fetchDB {
				return runFetchDBMode(cmd)
			}

			stdio, _ := cmd.Flags().GetBool("stdio")
			if stdio {
				return runStdioMode(cmd)
			}
			return runHTTPMode(cmd)
		},
	}

	root.Flags().Bool("stdio", false, "Run in stdio mode for local MCP clients (default: HTTP mode for remote deployment)")
	root.Flags().Bool("fetch-db", false, "Fetch the Open Food Facts parquet snapshot and exit")

	root.AddCommand(newResolveCmd(), newScoreCmd(), newVersionCmd())
	return root
}

// runFetchDBMode fetches the parquet snapshot and exits
func runFetchDBMode(cmd *cobra.Command) error {
	logger := config.NewTextLogger(cmd.ErrOrStderr())
	cfg := config.Load()

	logger.Info("🗄️  Starting database fetch",
		"mode", "fetch-db",
		"target_dir", filepath.Dir(cfg.ParquetPath))
	logger.Info("⚠️  Large dataset warning",
		"message", "The Open Food Facts dataset is several GB in size",
		"note", "Initial download may take several minutes")

	dataManager := server.NewServerInitializer(cfg, logger).DataManager()
	if err := dataManager.EnsureDataset(cmd.Context()); err != nil {
		logger.Error("Failed to fetch dataset", "error", err)
		return err
	}

	logger.Info("✅ Database fetch completed successfully",
		"parquet_path", cfg.ParquetPath,
		"metadata_path", cfg.MetadataPath)
	return nil
}

// runStdioMode serves MCP on stdin/stdout
func runStdioMode(cmd *cobra.Command) error {
	// stdout carries the protocol, so logs go to stderr
	logger := config.NewLogger(true)
	cfg := config.Load()

	logger.Info("🔌 Starting FoodFit MCP Server in STDIO mode",
		"mode", "stdio",
		"auth", "not required for stdio mode")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewServerInitializer(cfg, logger).Initialize(ctx)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer app.Close()
	app.Start(ctx)

	mcpSrv := mcpgo.NewServer(app.Resolver, app.Engine, auth.NewBearerTokenAuth(cfg.AuthToken), cfg.IsDevelopment(), logger)
	return mcpSrv.ServeStdio()
}

// runHTTPMode serves MCP over HTTP until SIGINT or SIGTERM
func runHTTPMode(cmd *cobra.Command) error {
	logger := config.NewLogger(false)
	cfg := config.Load()

	logger.Info("🌐 Starting FoodFit MCP Server in HTTP mode",
		"mode", "http",
		"auth", "Bearer token required (except /health endpoint)",
		"port", cfg.Port)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewServerInitializer(cfg, logger).Initialize(ctx)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer app.Close()
	app.Start(ctx)

	mcpSrv := mcpgo.NewServer(app.Resolver, app.Engine, auth.NewBearerTokenAuth(cfg.AuthToken), cfg.IsDevelopment(), logger)
	return mcpSrv.ServeHTTP(ctx, ":"+cfg.Port)
}

// initApp loads configuration and assembles the core for one-shot subcommands
func initApp(cmd *cobra.Command) (*server.App, error) {
	logger := config.NewTextLogger(cmd.ErrOrStderr())
	cfg := config.Load()
	return server.NewServerInitializer(cfg, logger).Initialize(cmd.Context())
}

// Execute runs the root command with a background context
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// Run is the main entry point for the CLI application
func Run() error {
	return Execute()
}
