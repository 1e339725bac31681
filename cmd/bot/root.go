package main

import (
	"github.com/spf13/cobra"

	"remindbot/internal/config"
)

var (
	cfgPath  string
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "remindbot",
	Short: "Recurring chat reminders",
	Long: `remindbot delivers user-scheduled messages at fixed intervals,
either privately or as a mention in a shared chat. Schedules survive restarts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return config.LoadDotEnv(envFiles...)
	},
	// Running without a subcommand starts the bot.
	RunE: runHandler,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json, yaml or toml)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
}
