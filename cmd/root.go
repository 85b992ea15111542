package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docextract/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "docextract",
	Short: "docextract - extract plain text from PDFs and images",
	Long: `docextract turns user-uploaded PDFs and images into plain text.

Searchable PDFs are read from their embedded text layer. Scanned PDFs and
images go to the configured provider (native, openai or google) behind
retries and a circuit breaker. Results are cached by content hash when a
Redis-compatible cache is configured.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("docextract executed")

		fmt.Println("Welcome to docextract!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
