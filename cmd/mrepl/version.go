package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped by the build (-ldflags "-X main.version=...").
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of mrepl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mrepl version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
