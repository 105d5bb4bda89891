// membank: persistent project memory over MCP.
//
// Records engineering decisions, conversations and outcomes per project,
// answers topic queries with ranked context and failure warnings, and scores
// project artifacts against quality gates.
//
// Usage:
//
//	membank serve     # Start MCP server (stdio transport)
//	membank config    # Print the effective configuration
//	membank version   # Print the version
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/membank/internal/server"
)

// configPath is the --config flag; empty means ~/.membank/config.yaml.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "membank",
	Short: "Persistent project memory MCP server",
	Long: `membank remembers the engineering decisions of your projects.

It stores decisions, conversations and outcomes per project, answers topic
queries with ranked context and failure-pattern warnings, and scores
requirements, task breakdowns and implementations against quality gates.
It speaks MCP over stdio; configure it in your AI coding tool with
"membank serve".`,
	Version:       server.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.membank/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
