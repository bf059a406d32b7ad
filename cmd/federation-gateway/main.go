package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/n9te9/federation-gateway/server"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Federation Gateway",
	Run: func(cmd *cobra.Command, args []string) {
		println("Federation Gateway v0.1.0")
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a starter gateway.yaml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Init()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Federation Gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run()
	},
}

func main() {
	rootCmd := &cobra.Command{Use: "federation-gateway"}
	rootCmd.AddCommand(versionCmd, initCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
