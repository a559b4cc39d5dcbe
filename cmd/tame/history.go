package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tame/internal/config"
	"tame/internal/notification"
	"tame/internal/storage"
	logx "tame/pkg/logx"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		limit   int
		session string
		kind    string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print journaled notifications, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var want notification.Kind
			if kind != "" {
				k, err := notification.ParseKind(kind)
				if err != nil {
					return err
				}
				want = k
			}

			log := logx.NewConsole("WARN")
			settings := config.NewStore(root.configPath, log).Settings()
			j := settings.Notifications.Journal
			st, err := storage.Open(storage.Config{Driver: j.Driver, Path: j.Path}, log)
			if err != nil {
				return err
			}
			if st == nil {
				return errors.New("journal disabled; set notifications.journal.driver to file or sqlite")
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			// Filters apply after the read, so over-fetch when filtering.
			fetch := limit
			if session != "" || want != 0 {
				fetch = max(limit*20, 1000)
			}
			events, err := st.RecentEvents(ctx, fetch)
			if err != nil {
				return err
			}
			events = filterEvents(events, session, want, limit)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, ev := range events {
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
				return nil
			}
			return printEvents(cmd, events)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	cmd.Flags().StringVar(&session, "session", "", "only events from this session id")
	cmd.Flags().StringVar(&kind, "kind", "", "only events of this kind (input_needed, error, completed, session_idle)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per line")
	return cmd
}

// filterEvents keeps the newest limit events matching session and kind.
func filterEvents(events []notification.Event, session string, kind notification.Kind, limit int) []notification.Event {
	out := make([]notification.Event, 0, len(events))
	for _, ev := range events {
		if session != "" && ev.SessionID != session {
			continue
		}
		if kind != 0 && ev.Kind != kind {
			continue
		}
		out = append(out, ev)
	}
	if limit >= 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func printEvents(cmd *cobra.Command, events []notification.Event) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPRIORITY\tKIND\tSESSION\tMESSAGE")
	for _, ev := range events {
		session := ev.SessionName
		if session == "" {
			session = ev.SessionID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.Local().Format(time.DateTime),
			strings.ToUpper(ev.Priority.String()),
			ev.Kind.String(),
			session,
			strings.ReplaceAll(ev.Message, "\t", " "),
		)
	}
	return w.Flush()
}
