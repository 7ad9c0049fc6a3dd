package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/refset/churnguard/internal/config"
	"github.com/refset/churnguard/internal/logging"
	"github.com/refset/churnguard/internal/pipeline"
)

var Version = "dev"

type app struct {
	configPath string
	tenant     string
	cfg        *config.Config
	logger     *zap.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "churnguard",
		Short:         "ChurnGuard - churn risk scoring for customer uploads",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&a.tenant, "tenant", "t", "", "tenant that owns the customers")

	rootCmd.AddCommand(a.importCmd())
	rootCmd.AddCommand(a.addCmd())
	rootCmd.AddCommand(a.reanalyzeCmd())
	rootCmd.AddCommand(a.statsCmd())
	rootCmd.AddCommand(a.migrateCmd())
	rootCmd.AddCommand(a.runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) load() error {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// withPipeline opens the pipeline under a context cancelled by SIGINT or
// SIGTERM and runs fn with it.
func (a *app) withPipeline(fn func(ctx context.Context, p *pipeline.Pipeline) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			a.logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	p, closeFn, err := pipeline.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open pipeline: %w", err)
	}
	defer closeFn()

	return fn(ctx, p)
}

func (a *app) requireTenant() error {
	if a.tenant == "" {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Import customers from a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireTenant(); err != nil {
				return err
			}
			return a.withPipeline(func(ctx context.Context, p *pipeline.Pipeline) error {
				report, err := p.ImportFile(ctx, a.tenant, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"upload_id":  report.UploadID,
					"object_key": report.ObjectKey,
					"summary":    report.Summary,
				})
			})
		},
	}
}

func (a *app) addCmd() *cobra.Command {
	var fields map[string]string
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Score and store a single customer",
		Example: `  churnguard add -t acme -f name="Beta Co" -f revenue=1200 -f last_activity_date=2026-07-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireTenant(); err != nil {
				return err
			}
			return a.withPipeline(func(ctx context.Context, p *pipeline.Pipeline) error {
				customer, err := p.AddCustomer(ctx, a.tenant, fields)
				if err != nil {
					return err
				}
				return printJSON(cmd, customer)
			})
		},
	}
	cmd.Flags().StringToStringVarP(&fields, "field", "f", nil, "customer field as header=value, repeatable")
	return cmd
}

func (a *app) reanalyzeCmd() *cobra.Command {
	var withResults bool
	cmd := &cobra.Command{
		Use:   "reanalyze",
		Short: "Re-score every customer of a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireTenant(); err != nil {
				return err
			}
			return a.withPipeline(func(ctx context.Context, p *pipeline.Pipeline) error {
				report, err := p.Reanalyze(ctx, a.tenant)
				if err != nil {
					return err
				}
				if withResults {
					return printJSON(cmd, report)
				}
				return printJSON(cmd, report.Stats)
			})
		},
	}
	cmd.Flags().BoolVar(&withResults, "results", false, "print every assessment, not just the stats")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard totals for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireTenant(); err != nil {
				return err
			}
			return a.withPipeline(func(ctx context.Context, p *pipeline.Pipeline) error {
				stats, err := p.Stats(ctx, a.tenant)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(func(ctx context.Context, p *pipeline.Pipeline) error {
				fmt.Fprintf(cmd.OutOrStdout(), "schema %s is ready\n", a.cfg.Database.Schema)
				return nil
			})
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Periodically re-analyze every tenant until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(func(ctx context.Context, p *pipeline.Pipeline) error {
				return p.Run(ctx)
			})
		},
	}
}
