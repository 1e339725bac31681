package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"remindbot/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot",
	Long: `Connect to the chat platform, restore every stored schedule and
process commands until SIGINT or SIGTERM.`,
	RunE: runHandler,
}

func runHandler(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}

	stop := func(reason app.StopReason) {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		_ = a.Stop(sctx, reason)
	}

	if err := a.Start(ctx); err != nil {
		stop(app.StopFatalError)
		return err
	}

	select {
	case <-ctx.Done():
		stop(app.StopSignal)
		return nil
	case <-a.Done():
		err := a.Err()
		stop(app.StopFatalError)
		return err
	}
}
