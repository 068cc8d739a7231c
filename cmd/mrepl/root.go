package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mrepl",
	Short: "mrepl is a message-based REPL server",
	Long: `mrepl serves an extensible message protocol for interactive evaluation:
clients send operation messages (eval, clone, interrupt, ...) and receive
streamed responses. Operations are provided by a composable middleware
chain and sessions carry the evaluation state between messages.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the mrepl config file")
}
