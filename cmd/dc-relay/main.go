// Package main is the entry point for dc-relay.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "config.yaml"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dc-relay",
	Short: "Rate-limit-aware reverse proxy for the Discord API",
	Long: `dc-relay is a reverse proxy that sits between your bots and the Discord
REST API, tracking every rate limit bucket so that requests queue locally
instead of burning 429s. Multiple services can share one bot token through
a single relay and never fight over the same buckets.`,
}

func init() {
	// Global flags available to all subcommands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/dc-relay/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
