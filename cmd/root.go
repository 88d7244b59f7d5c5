package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the inboxqa application
var rootCmd = &cobra.Command{
	Use:   "inboxqa",
	Short: "Gmail inbox and PDF question answering gateway",
	Long: `inboxqa is an HTTP gateway for a browser client. Users sign in with
Google, read and reply to their latest inbox messages, and ask questions
about a PDF they uploaded, answered by an OpenAI model.`,
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
	rootCmd.SetVersionTemplate(`{{printf "inboxqa version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newKeygenCmd())
}
