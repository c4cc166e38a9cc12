package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"relosla/internal/app"
	"relosla/internal/config"
	"relosla/internal/db"
	"relosla/internal/domain"
	"relosla/internal/engine"
	"relosla/internal/mcp"
	"relosla/internal/obs"
	"relosla/internal/server"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "relosla",
	Short: "Relocation SLA timeline CLI",
	Long: `relosla reconstructs who was responsible for a relocation case, and for how long,
from its audit trail, and folds the timelines into SLA statistics per sector.
- Workspace: a directory holding relosla.yml and the .relosla database (or a postgres DSN).
- Import: load a JSON history bundle (cases, tasks, status events, audit records).
- Report: per-sector mean durations and rejection counts for a window of days.
- Timeline: the responsibility cycles of one case (approval, execution, analysis, correction, validation).
- Serve: HTTP API with OpenAPI docs and Prometheus metrics; mcp: the same report over stdio tools.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("dsn") != "" {
			return nil
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RELOSLA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("dsn", "", "database DSN (postgres://...); defaults to the workspace sqlite file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("dsn", rootCmd.PersistentFlags().Lookup("dsn"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
}

func newLogger() *logrus.Logger {
	return obs.NewLogger(viper.GetString("log-level"), viper.GetString("log-format"), os.Stderr)
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(app.Options{
		Workspace: viper.GetString("workspace"),
		DSN:       viper.GetString("dsn"),
		Log:       newLogger(),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.Context) error {
		return fn(ctx, a.Engine)
	})
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage relosla.yml",
		Long:  "relosla.yml tunes the timeline engine (iteration bound, dedup window, tolerances), the status and sector vocabulary, the HTTP server and the database DSN. Missing keys keep their defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default relosla.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate relosla.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <bundle.json>",
		Short: "Import a case history bundle",
		Long:  "Loads {cases, tasks, status_events, audit_records} in one transaction. Records without ids get deterministic ids, so re-importing the same file is a no-op.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var b domain.Bundle
			if err := json.Unmarshal(data, &b); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.Import(ctx, b)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("imported %d cases, %d tasks, %d status events, %d audit records\n",
					stats.Cases, stats.Tasks, stats.StatusEvents, stats.AuditRecords)
				return nil
			})
		},
	}
}

func reportCmd() *cobra.Command {
	var f engine.ReportFilter
	var showCases bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Compute the SLA report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ComputeReport(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res.Report)
				}
				renderReport(os.Stdout, res.Report, showCases)
				fmt.Printf("run %s\n", res.Run.ID)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Days, "days", 0, "lookback window in days (default 30)")
	cmd.Flags().StringVar(&f.Start, "start", "", "window start (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&f.End, "end", "", "window end (YYYY-MM-DD inclusive or RFC3339)")
	cmd.Flags().BoolVar(&f.OnlyCompleted, "only-completed", false, "only cases completed in the window")
	cmd.Flags().BoolVar(&showCases, "cases", false, "also list per-case totals")
	return cmd
}

func timelineCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "timeline <case_id>",
		Short: "Show the responsibility timeline of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var now time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --now %q: want RFC3339", at)
				}
				now = t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CaseTimeline(ctx, args[0], now)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				renderTimeline(os.Stdout, d)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "now", "", "evaluate open cycles at this RFC3339 instant")
	return cmd
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent report runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.ReportRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				renderRuns(os.Stdout, runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				log := a.Engine.Log
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					BasePath:  basePath,
					RateLimit: a.Config.Server.RateLimit.RPS,
					Burst:     a.Config.Server.RateLimit.Burst,
					Log:       log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath}).
					Info("serving relocation SLA API (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve report tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return mcp.Serve(ctx, e, version)
			})
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
