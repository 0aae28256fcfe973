package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aschepis/backscratcher/llmcore/config"
	"github.com/spf13/cobra"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the llmcall configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgFile); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
		}
		if err := config.Save(config.Example(), cfgFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfgFile)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured clients and retry policies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Config: %s\n\nClients:\n", cfgFile)
		for _, name := range cfg.ClientNames() {
			entry := cfg.Clients[name]
			marker := " "
			if name == cfg.DefaultClient {
				marker = "*"
			}
			policy := entry.RetryPolicy
			if policy == "" {
				policy = "none"
			}
			fmt.Fprintf(out, " %s %s (provider %s, retry %s)\n", marker, name, entry.Provider, policy)
		}

		fmt.Fprintln(out, "\nRetry policies:")
		for _, p := range cfg.Policies() {
			p = p.WithDefaults()
			fmt.Fprintf(out, "   %s: %d retries, %s from %dms\n", p.Name, p.MaxRetries, strings.ReplaceAll(string(p.Strategy.Type), "_", " "), p.Strategy.DelayMs)
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing configuration file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
