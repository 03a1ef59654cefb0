package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mailledger application
var rootCmd = &cobra.Command{
	Use:   "mailledger",
	Short: "Tracks financial transactions arriving in a Gmail mailbox",
	Long: `mailledger polls a Gmail mailbox, reconstructs conversation threads,
and runs a two-stage AI pipeline that classifies each conversation and
extracts financial transaction details. Extracted transactions are stored
idempotently in a local sqlite database.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailledger version %s\n" .Version}}`)

	// If no subcommand is provided, run the track command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "track")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newTrackCmd())
	rootCmd.AddCommand(newBackfillCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newClearCmd())
	rootCmd.AddCommand(newVersionCmd())
}
