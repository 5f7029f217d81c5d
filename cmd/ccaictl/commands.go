package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/creativecareer/ccai/internal/tui/client"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if opts.json {
					return outputJSON(w, st)
				}
				fmt.Fprintf(w, "Session: %s\n", st.Session)
				fmt.Fprintf(w, "User:    %s\n", st.UserID)
				fmt.Fprintf(w, "State:   %s\n", st.State)
				fmt.Fprintf(w, "Unread:  %d\n", st.TotalUnread)
				if st.OpenConversation != "" {
					fmt.Fprintf(w, "Open:    %s\n", st.OpenConversation)
				}
				if st.InFlight > 0 {
					fmt.Fprintf(w, "Sending: %d\n", st.InFlight)
				}
				fmt.Fprintf(w, "Uptime:  %dms\n", st.UptimeMs)
				return nil
			})
		},
	}
}

func newConversationsCmd(opts *options) *cobra.Command {
	var (
		filter  string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				resp, err := c.Conversations(ctx, filter, refresh)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if opts.json {
					return outputJSON(w, resp)
				}
				if len(resp.Conversations) == 0 {
					fmt.Fprintln(w, "No conversations.")
					return nil
				}
				for _, conv := range resp.Conversations {
					fmt.Fprintln(w, formatConversation(conv))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "match partner name or last message")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "reload the list from the server first")
	return cmd
}

func newOpenCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "open <conversation-id>",
		Short: "Open a conversation and print its newest messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				tl, err := c.Open(ctx, args[0])
				if err != nil {
					return err
				}
				return printTimeline(cmd.OutOrStdout(), opts, tl)
			})
		},
	}
}

func newCloseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Leave the open conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				return c.CloseConversation(ctx)
			})
		},
	}
}

func newOlderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "older",
		Short: "Load the previous page of the open conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				resp, err := c.LoadOlder(ctx)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if opts.json {
					return outputJSON(w, resp)
				}
				fmt.Fprintf(w, "Loaded %d older messages (more: %v)\n", resp.Added, resp.HasMore)
				return nil
			})
		},
	}
}

func newTimelineCmd(opts *options) *cobra.Command {
	var tz string
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Print the open conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				tl, err := c.Timeline(ctx, tz)
				if err != nil {
					return err
				}
				return printTimeline(cmd.OutOrStdout(), opts, tl)
			})
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "IANA zone used to split days (default: daemon's local zone)")
	return cmd
}

func newSendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>...",
		Short: "Send a message to the open conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				tempID, err := c.Send(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if opts.json {
					return outputJSON(w, map[string]string{"tempId": tempID})
				}
				fmt.Fprintf(w, "Sent (pending %s)\n", tempID)
				return nil
			})
		},
	}
}

func newPresenceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "presence <user-id>",
		Short: "Show a user's online status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				p, err := c.Presence(ctx, args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if opts.json {
					return outputJSON(w, p)
				}
				line := fmt.Sprintf("%s: %s", p.UserID, p.Status)
				if p.Typing {
					line += " (typing)"
				}
				fmt.Fprintln(w, line)
				return nil
			})
		},
	}
}

func newFailedCmd(opts *options) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List sends that failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				rows, err := c.FailedSends(ctx, statuses...)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if opts.json {
					return outputJSON(w, rows)
				}
				if len(rows) == 0 {
					fmt.Fprintln(w, "No failed sends.")
					return nil
				}
				for _, r := range rows {
					fmt.Fprintln(w, formatFailedSend(r))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (failed, queued, resent)")
	return cmd
}

func newRetryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <temp-id>",
		Short: "Queue a failed send to go out again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, c *client.Client) error {
				if err := c.Retry(ctx, args[0]); err != nil {
					return err
				}
				if !opts.json {
					fmt.Fprintf(cmd.OutOrStdout(), "Queued %s\n", args[0])
				}
				return nil
			})
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [kind-prefix]...",
		Short: "Stream session notifications until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withClientContext(cmd, opts, 0, func(ctx context.Context, c *client.Client) error {
				stream, err := c.Watch(ctx, args...)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for {
					evt, err := stream.Recv()
					if err != nil {
						if errors.Is(err, io.EOF) || ctx.Err() != nil {
							return nil
						}
						return err
					}
					if opts.json {
						if err := outputJSON(w, evt); err != nil {
							return err
						}
						continue
					}
					fmt.Fprintln(w, formatEvent(evt))
				}
			})
		},
	}
}
