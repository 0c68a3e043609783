package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ssargent/yggdrasil/pkg/config"
	"github.com/ssargent/yggdrasil/pkg/di"
	"github.com/ssargent/yggdrasil/pkg/docstore"
	"github.com/ssargent/yggdrasil/pkg/index"
	"github.com/ssargent/yggdrasil/pkg/value"
)

type ctxKey string

const (
	serviceKey ctxKey = "service"
	storeKey   ctxKey = "store"
	configKey  ctxKey = "config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ygg",
	Short: "YggdrasilDB - Namespaced Ordered Index",
	Long: `YggdrasilDB is a persistent namespaced ordered index: a B-tree over
a transactional document store with range pagination and cursors.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		configPath, _ := cmd.Flags().GetString("config")
		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}
		if config.ConfigExists(configPath) {
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = loaded
		}
		if dataDir, _ := cmd.Flags().GetString("data-dir"); cmd.Flags().Changed("data-dir") {
			cfg.DataDir = dataDir
		}

		svc, store, err := di.NewContainer().OpenService(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}

		ctx := cmd.Context()
		ctx = context.WithValue(ctx, serviceKey, svc)
		ctx = context.WithValue(ctx, storeKey, store)
		ctx = context.WithValue(ctx, configKey, cfg)
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if store, ok := cmd.Context().Value(storeKey).(docstore.Store); ok {
			return store.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("data-dir", "d", "./data", "Data directory for the store (empty for in-memory)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().String("ns", "", "Namespace (cursor encoding; empty for the undefined namespace)")
}

func serviceFromContext(cmd *cobra.Command) (*index.Service, error) {
	svc, ok := cmd.Context().Value(serviceKey).(*index.Service)
	if !ok {
		return nil, fmt.Errorf("service not found in context")
	}
	return svc, nil
}

func storeFromContext(cmd *cobra.Command) (docstore.Store, error) {
	store, ok := cmd.Context().Value(storeKey).(docstore.Store)
	if !ok {
		return nil, fmt.Errorf("store not found in context")
	}
	return store, nil
}

func configFromContext(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey).(*config.Config); ok {
		return cfg
	}
	return config.DefaultConfig()
}

// namespaceFlag parses the --ns flag; the empty string addresses the
// undefined namespace.
func namespaceFlag(cmd *cobra.Command) (any, error) {
	raw, _ := cmd.Flags().GetString("ns")
	if raw == "" {
		return nil, nil
	}
	ns, err := value.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid namespace %q: %w", raw, err)
	}
	return ns, nil
}

// parseKey reads a structured key from a CLI argument: the cursor
// encoding when it parses, a plain string otherwise, so quoting is
// only needed for non-string keys.
func parseKey(arg string) any {
	if key, err := value.Decode(arg); err == nil {
		return key
	}
	return arg
}
