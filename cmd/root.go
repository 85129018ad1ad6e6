// Package cmd defines the CLI commands for the sitemapper executable.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitemapper",
		Short: "Generates sitemaps by crawling a website breadth-first",
		Long: `sitemapper discovers every reachable page of a site with a
breadth-first crawl, rendering JavaScript-heavy listing pages in a
headless browser where plain HTTP is not enough, and emits the result
as sitemaps.org XML.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default reads SITEMAPPER_* environment)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
