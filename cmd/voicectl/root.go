package main

import (
	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "voicectl",
	Short: "Harmonium voice channel client",
	Long:  "voicectl joins a Harmonium voice channel from the terminal and keeps a full mesh of peer connections to the other participants.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "voice server base URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", "", "bearer token for authentication")
	_ = rootCmd.MarkPersistentFlagRequired("token")

	rootCmd.AddCommand(joinCmd)
}
