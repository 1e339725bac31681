package main

import (
	"github.com/spf13/cobra"

	"remindbot/internal/app"
)

var listOwner string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print an owner's scheduled messages from the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return app.ListOwner(cmd.Context(), cfgPath, listOwner, cmd.OutOrStdout())
	},
}

func init() {
	listCmd.Flags().StringVar(&listOwner, "owner", "", "owner user id")
	_ = listCmd.MarkFlagRequired("owner")
}
