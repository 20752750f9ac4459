package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "skycoord",
	Short: "Rescue drone fleet coordinator",
	Long:  "skycoord coordinates a fleet of rescue drones over TCP, pairing each idle drone with the nearest waiting survivor.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
