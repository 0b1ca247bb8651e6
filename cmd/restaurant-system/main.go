package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "restaurant-system",
	Short: "Order lifecycle service with live dashboards",
	Long: `restaurant-system stores restaurant orders, moves them through their
status lifecycle and pushes every change to the tenant's connected
dashboards.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the YAML config (default: config.yaml, then deploy/config.example.yaml)")
	rootCmd.AddCommand(serveCmd, recountCmd, watchCmd)
}

// loadConfig reads --config, falls back to the usual locations and then
// to built-in defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		found, err := config.FindConfig()
		if errors.Is(err, fs.ErrNotExist) {
			return config.Parse(nil)
		}
		if err != nil {
			return nil, err
		}
		path = found
	}
	return config.LoadConfig(path)
}

func newLogger(cfg *config.Config, service string) (*logger.Logger, error) {
	return logger.NewWithOptions(service, logger.Options{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
