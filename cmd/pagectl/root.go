package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/pageheap/internal/logger"
	"github.com/joshuapare/pageheap/pageheap"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	logJSON    bool
	configName string
)

// stdout is where command output goes; tests swap it out.
var stdout io.Writer = os.Stdout

var rootCmd = &cobra.Command{
	Use:   "pagectl",
	Short: "Exercise and inspect a page-granularity heap",
	Long: `pagectl drives a page heap: it runs simulated allocation workloads,
prints the size-class table used by the object allocator, and serves a debug
HTTP API over a live heap.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.Init(logger.Options{Enabled: true, JSON: logJSON, Level: slog.LevelDebug})
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging to stderr")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit debug logs as JSON (with --verbose)")
	rootCmd.PersistentFlags().StringVar(&configName, "config", "standard",
		"Heap configuration: standard, compact or large")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// heapConfig resolves the --config flag.
func heapConfig() (pageheap.Config, error) {
	switch strings.ToLower(configName) {
	case "standard", "":
		return pageheap.ConfigStandard, nil
	case "compact":
		return pageheap.ConfigCompact, nil
	case "large", "largechunks":
		return pageheap.ConfigLargeChunks, nil
	default:
		return pageheap.Config{}, fmt.Errorf("%w: unknown config %q", pageheap.ErrBadConfig, configName)
	}
}

// printer formats numbers with digit grouping.
var printer = message.NewPrinter(language.English)

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		printer.Fprintf(stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(stdout)
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
