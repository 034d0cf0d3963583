// Command appraisalctl runs operational tasks against the appraisal store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oisdev/appraisal/internal/config"
	"github.com/oisdev/appraisal/internal/rubric"
	"github.com/oisdev/appraisal/internal/services"
	"github.com/oisdev/appraisal/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "appraisalctl",
	Short:         "Operate the teacher self-assessment store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "config file (default config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall operation timeout")

	schemaCmd.AddCommand(schemaCheckCmd, schemaInitCmd)
	exportCmd.AddCommand(exportCSVCmd)
	rosterCmd.AddCommand(rosterImportCmd)
	rootCmd.AddCommand(schemaCmd, exportCmd, rosterCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env is what every subcommand works against.
type env struct {
	cfg    *config.Config
	schema *rubric.Schema
	store  *services.Store
	roster *services.RosterService
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)

	var schema *rubric.Schema
	if cfg.Rubric.Path == "" {
		schema, err = rubric.Default()
	} else {
		schema, err = rubric.Load(cfg.Rubric.Path)
	}
	if err != nil {
		return nil, err
	}

	store, err := services.OpenStore(ctx, cfg, schema)
	if err != nil {
		return nil, err
	}
	cache := services.NewMemoryCache()
	return &env{
		cfg:    cfg,
		schema: schema,
		store:  store,
		roster: services.NewRosterService(store.Users, cfg.Roster, cache, cfg.Cache.RosterTTL),
	}, nil
}

// withEnv opens the store for fn under the --timeout deadline.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.store.Close()
	return fn(ctx, e)
}
