package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"cyclekit/internal/app"
	"cyclekit/plugins/system"
)

const stopTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	var sampleEvery string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the host and block until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHost(cmd.Context(), flagConfigPath, sampleEvery)
		},
	}
	cmd.Flags().StringVar(&sampleEvery, "sample-every", system.DefaultEvery, "runtime sampling schedule of the system plugin")
	return cmd
}

func runHost(parent context.Context, cfgPath, sampleEvery string) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if _, err := system.Register(a, sampleEvery); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(parent); err != nil {
		stopWith(a, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	// Not running under systemd is not an error.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	var (
		reason app.StopReason
		runErr error
	)
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopAppStop
		if runErr = a.Err(); runErr != nil && !errors.Is(runErr, context.Canceled) {
			reason = app.StopFatalError
		} else {
			runErr = nil
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err := stopWith(a, reason); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func stopWith(a *app.App, reason app.StopReason) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return a.Stop(ctx, reason)
}
