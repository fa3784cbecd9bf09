package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	appconfig "github.com/saker-ai/voice-overlay/internal/config"
	"github.com/saker-ai/voice-overlay/pkg/runtime"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "voice-overlay",
	Short: "Voice channel overlay for OBS browser sources",
	Long: `voice-overlay connects to the local streamkit overlay proxy, tracks who is
in the configured voice channel and who is talking, and serves an overlay page
that browser sources can embed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appconfig.LoadConfig(configPath)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: conf.yaml in the root dir)")
	rootCmd.AddCommand(configCmd)
}

func serve(ctx context.Context) error {
	server, err := runtime.New(configPath)
	if err != nil {
		return err
	}
	logger := server.Logger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Error("voice-overlay stopped", zap.Error(err))
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
