// Package cli provides the command-line interface for tootrelay.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "tootrelay",
	Short: "Relay new posts from public profile pages to Mastodon-compatible instances",
	Long: "tootrelay scrapes public profile pages, keeps a per-destination watermark of what it already relayed, " +
		"and posts everything newer, with images, to one or more Mastodon-compatible instances.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("tootrelay %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", defaultConfigDir(), "config directory")
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tootrelay"
	}
	return filepath.Join(home, ".tootrelay")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which commands observe for
// cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
