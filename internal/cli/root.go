// Package cli implements the speakd command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "speakd",
	Short: "Prepaid character-credit metering for TTS agents",
	Long: `speakd meters text-to-speech usage with prepaid character credits.

Agents register, buy credit packs through gwop checkout, and submit
asynchronous TTS jobs. Every job reserves characters up front and settles
against actual usage when the audio is ready.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to speakd.toml (defaults apply when omitted)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the speakd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("speakd %s\n", Version)
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
