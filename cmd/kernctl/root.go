package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kernkit/internal/logger"
	"github.com/joshuapare/kernkit/kernel"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	memmapPath string
	imagePath  string
	memorySize uint64
)

var closeLog = func() error { return nil }

var rootCmd = &cobra.Command{
	Use:   "kernctl",
	Short: "Boot and inspect the kernkit memory and task core",
	Long: `kernctl boots the kernkit core over simulated physical memory and
reports on its frame allocator, heap, page tables and tasks. Memory can be
anonymous or backed by an image file that is flushed on shutdown.`,
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		closeLog, err = logger.Init(logger.Options{
			Enabled: verbose && !quiet,
			Level:   slog.LevelDebug,
		})
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVar(&memmapPath, "memmap", "", "YAML memory map (default: PC-style map)")
	rootCmd.PersistentFlags().
		StringVar(&imagePath, "image", "", "Back physical memory with this file")
	rootCmd.PersistentFlags().
		Uint64Var(&memorySize, "memory", kernel.DefaultMemorySize, "Physical memory size in bytes")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootKernel boots a kernel from the global flags.
func bootKernel() (*kernel.Kernel, error) {
	cfg := kernel.DefaultConfig()
	cfg.MemorySize = memorySize
	cfg.Image = imagePath
	if memmapPath != "" {
		m, err := kernel.LoadMemoryMap(memmapPath)
		if err != nil {
			return nil, err
		}
		cfg.MemoryMap = m
	}
	printVerbose("Booting: %s of memory\n", formatBytes(cfg.MemorySize))
	return kernel.Boot(cfg)
}

// withKernel boots, runs fn and shuts the kernel down.
func withKernel(fn func(k *kernel.Kernel) error) error {
	k, err := bootKernel()
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	runErr := fn(k)
	if err := k.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown failed: %w", err)
	}
	return runErr
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
