package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chat-server",
	Short: "Real-time chat server",
	Long: `chat-server runs the websocket chat gateway: authenticated room
connections, message fan-out and online presence.

Available commands:
  serve    Start the HTTP and websocket server (default)
  token    Mint an access token for local testing

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
