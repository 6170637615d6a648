package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	actorUser string
)

var rootCmd = &cobra.Command{
	Use:   "repoctl",
	Short: "CLI for the model repository server",
	Long: `repoctl is a CLI for interacting with the model repository server:
namespace collaborator and role management, and payload mapping.

The acting user is sent via the X-Acting-User header; point --server at a
deployment fronted by a real authenticating proxy for production use.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Repository server URL")
	rootCmd.PersistentFlags().StringVar(&actorUser, "as", "", "Acting username (default: from REPOSITORY_USER env)")

	rootCmd.AddCommand(namespacesCmd)
	rootCmd.AddCommand(collaboratorsCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(mapCmd)
}

// resolvedActor returns the effective acting username.
// Priority: --as flag > REPOSITORY_USER env var.
func resolvedActor() string {
	if actorUser != "" {
		return actorUser
	}
	return os.Getenv("REPOSITORY_USER")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
