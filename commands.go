package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mark3labs/mcp-go/server"
	"github.com/melkeydev/mcp-tablerest/config"
	"github.com/melkeydev/mcp-tablerest/databases"
	"github.com/melkeydev/mcp-tablerest/executor"
	"github.com/melkeydev/mcp-tablerest/handlers"
	"github.com/melkeydev/mcp-tablerest/mcp"
	"github.com/melkeydev/mcp-tablerest/query"
	"github.com/melkeydev/mcp-tablerest/schema"
	"github.com/melkeydev/mcp-tablerest/tenant"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile string
	cfg     *config.Config
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "tablerest",
		Short:   "Expose relational tables as tenant scoped resources",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.LoadConfig(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				slog.Error("config error", "error", err)
				return err
			}
			slog.SetDefault(cfg.Log.NewLogger())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "path to config file (default: ./"+config.DefaultConfigFile+")")
	flags.String("db-type", "", "database type (sqlite|postgres|mysql)")
	flags.String("dsn", "", "database connection string")
	flags.String("db-file", "", "sqlite database file")
	flags.String("owner", "", "ownership column name")
	flags.Bool("null-open", false, "expose rows with a NULL owner to every caller")
	flags.String("auth-table", "", "authentication table")
	flags.Int64("caller-id", 0, "caller identity for this session")
	flags.String("caller", "", "caller username, resolved through the auth table")
	flags.Int("concurrency", 0, "parallel table introspection")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("log-format", "", "log format (text|json)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newCompileCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// app is the wired core shared by every command.
type app struct {
	connector databases.Connector
	catalog   *schema.Catalog
	executor  *executor.Executor
}

// bootstrap connects and loads the catalog. Any failure here is fatal:
// there is no partial service mode.
func bootstrap(ctx context.Context, cfg *config.Config) (*app, error) {
	connStr, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("connection string error: %w", err)
	}

	connector, err := databases.NewConnector(cfg.Database.DBType, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}

	logger := slog.Default()
	catalog := schema.NewCatalog(connector, schema.Options{
		OwnerColumn: cfg.Tenant.OwnerColumn,
		AuthTable:   cfg.Auth.Table,
		Concurrency: cfg.Schema.Concurrency,
		Logger:      logger,
	})
	if err := catalog.Load(ctx); err != nil {
		connector.Close()
		return nil, fmt.Errorf("failed to load schema catalog: %w", err)
	}

	filter := tenant.Filter{Column: cfg.Tenant.OwnerColumn, NullOpen: cfg.Tenant.NullOpen}
	exec := executor.New(connector.DB(), connector, catalog, filter,
		executor.WithLogger(logger),
		executor.WithAuthTable(cfg.Auth.Table),
	)

	return &app{connector: connector, catalog: catalog, executor: exec}, nil
}

func (a *app) resolveCaller(ctx context.Context, cfg *config.Config) (int64, error) {
	if cfg.Caller.Username == "" {
		return cfg.Caller.ID, nil
	}
	id, err := a.executor.LookupCaller(ctx, cfg.Caller.Username)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve caller %s: %w", cfg.Caller.Username, err)
	}
	return id, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tables as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, cfg)
			if err != nil {
				slog.Error("startup failed", "error", err)
				return err
			}
			defer a.connector.Close()

			caller, err := a.resolveCaller(ctx, cfg)
			if err != nil {
				slog.Error("startup failed", "error", err)
				return err
			}

			s := server.NewMCPServer(
				"mcp-tablerest",
				version,
				server.WithToolCapabilities(false),
				server.WithLogging(),
			)

			mcp.RegisterTools(s, &handlers.Session{
				Executor: a.executor,
				Catalog:  a.catalog,
				Caller:   caller,
				Logger:   slog.Default(),
			})
			slog.Info("serving", "dialect", a.connector.Name(), "tables", len(a.catalog.Tables()), "caller", caller)

			if err := server.ServeStdio(s); err != nil {
				slog.Error("server error", "error", err)
				return err
			}
			return nil
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the introspected schema catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.connector.Close()

			renderCatalog(cmd.OutOrStdout(), a.catalog.Tables(), cfg.Tenant.OwnerColumn)
			return nil
		},
	}
}

func renderCatalog(w io.Writer, tables []*schema.Table, ownerColumn string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "Column", "Type", "Numeric", "Key", "Owner"})

	for _, tbl := range tables {
		for _, col := range tbl.Columns {
			key := ""
			if col.Name == tbl.PrimaryKey {
				key = "PK"
			}
			owner := ""
			if tbl.HasOwner && col.Name == ownerColumn {
				owner = "yes"
			}
			t.AppendRow(table.Row{tbl.Name, col.Name, col.RawType, col.IsNumeric, key, owner})
		}
		t.AppendSeparator()
	}
	t.Render()
}

func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <table> <query-string>",
		Short: "Print the SQL compiled for a textual list query without running it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.connector.Close()

			t, ok := a.catalog.Lookup(args[0])
			if !ok {
				return fmt.Errorf("table %s not found", args[0])
			}
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}

			spec, err := query.ParseQueryString(raw, t)
			if err != nil {
				return err
			}
			lq, err := a.executor.Compiler().CompileList(t, spec, cfg.Caller.ID)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(map[string]any{
				"list":  lq.List,
				"count": lq.Count,
				"args":  lq.Args,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
