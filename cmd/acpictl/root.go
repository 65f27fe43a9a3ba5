package main

import (
	"context"
	"gopheros/device/acpi/platform"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var verbose bool

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "acpictl",
		Short:         "Drive a simulated ACPI platform",
		Long:          `Boot the ACPI engine on a platform described by a TOML file, raise GPEs and evaluate namespace objects.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")

	rootCmd.AddCommand(newRunCmd(), newEvalCmd())
	return rootCmd
}

// newLogger returns the logger handed to the engine.
func newLogger() (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	return cfg.Build()
}

// boot loads a platform file and boots it.
func boot(ctx context.Context, path string) (*platform.Machine, error) {
	desc, err := platform.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	return desc.Boot(ctx, logger)
}
