package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/liamcoop/checkers/config"
	"github.com/liamcoop/checkers/internal/logger"
)

// Exit codes
const (
	exitGreen = 0
	exitRed   = 1
	exitError = 2
)

// exitCode ends the process with a code other than exitError without printing
// an error
type exitCode int

func (e exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

var configPath string

var rootCmd = &cobra.Command{
	Use:           "checkers",
	Short:         "Evaluate sandboxed assertion rules against datasets and raise alarms",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (env CHECKERS_* overrides it)")
	rootCmd.AddCommand(serveCmd, runCmd, checkCmd, migrateCmd)
}

// loadConfig reads the configuration and applies the log settings
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyLogging()
	logger.Debug("configuration loaded", "config", cfg.String())
	return cfg, nil
}

func main() {
	err := rootCmd.Execute()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := logger.Shutdown(ctx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", shutdownErr)
	}

	if err == nil {
		os.Exit(exitGreen)
	}
	var code exitCode
	if errors.As(err, &code) {
		os.Exit(int(code))
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitError)
}
