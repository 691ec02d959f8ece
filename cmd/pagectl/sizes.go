package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/pageheap/pageheap/central"
)

func init() {
	rootCmd.AddCommand(newSizesCmd())
}

func newSizesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sizes",
		Short: "Print the size-class table",
		Long: `The sizes command prints the object size classes for the selected heap
configuration's page size: object size, pages per span, objects per span and
the fraction of each span lost to carving.

Example:
  pagectl sizes
  pagectl sizes --config large --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSizes()
		},
	}
}

func runSizes() error {
	cfg, err := heapConfig()
	if err != nil {
		return err
	}
	classes := central.NewTable(cfg.PageShift).Classes()
	if jsonOut {
		return printJSON(classes)
	}

	printInfo("%d size classes for %d-byte pages\n\n", len(classes), cfg.PageSize())
	printInfo("%5s %8s %6s %8s %9s %7s\n", "class", "size", "pages", "objects", "transfer", "waste")
	for _, ci := range classes {
		printInfo("%5d %8d %6d %8d %9d %6.1f%%\n",
			ci.Class, ci.Size, ci.Pages, ci.Objects, ci.Transfer, ci.Waste*100)
	}
	return nil
}
