package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tame/internal/app"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var (
		session string
		name    string
		shell   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Classify lines from stdin and dispatch notifications",
		Long: `Read session output from stdin, one line at a time, until EOF or
SIGINT/SIGTERM. The config file is watched and reloaded on change.

  claude 2>&1 | tee /dev/tty | tame watch --session build`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				name = session
			}
			return runWatch(cmd, app.Options{ConfigPath: root.configPath, Shell: shell}, session, name)
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "stdin", "session id reported in notifications")
	cmd.Flags().StringVar(&name, "name", "", "human-readable session name (default: the session id)")
	cmd.Flags().BoolVar(&shell, "shell", false, "also match the shell_regexes pattern lists")
	return cmd
}

func runWatch(cmd *cobra.Command, opts app.Options, session, name string) error {
	a, err := app.NewApp(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	signaled := make(chan app.StopReason, 1)
	go func() {
		select {
		case s := <-sigc:
			if s == syscall.SIGTERM {
				signaled <- app.StopSIGTERM
			} else {
				signaled <- app.StopSIGINT
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.Start(ctx); err != nil {
		return err
	}
	go func() {
		<-a.Done()
		cancel()
	}()

	feedErr := a.FeedReader(ctx, session, name, cmd.InOrStdin())
	cancel()

	reason := app.StopInputEOF
	select {
	case reason = <-signaled:
	default:
	}
	if a.Err() != nil {
		reason = app.StopFatalError
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if feedErr != nil {
		return feedErr
	}
	return a.Err()
}
