package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/creativecareer/ccai/internal/session"
	"github.com/creativecareer/ccai/internal/tui/client"
	"github.com/spf13/cobra"
)

type options struct {
	session string
	json    bool
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ccaictl",
		Short:         "Control a running ccaid session",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.session, "session", "", "session name (overrides config default)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output in JSON format")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		newStatusCmd(opts),
		newConversationsCmd(opts),
		newOpenCmd(opts),
		newCloseCmd(opts),
		newOlderCmd(opts),
		newTimelineCmd(opts),
		newSendCmd(opts),
		newPresenceCmd(opts),
		newFailedCmd(opts),
		newRetryCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// withClient connects to the session daemon and runs fn with a bounded
// context.
func withClient(cmd *cobra.Command, opts *options, fn func(ctx context.Context, c *client.Client) error) error {
	return withClientContext(cmd, opts, opts.timeout, fn)
}

func withClientContext(cmd *cobra.Command, opts *options, timeout time.Duration, fn func(ctx context.Context, c *client.Client) error) error {
	sessionName, err := session.Resolve(opts.session)
	if err != nil {
		return err
	}
	c, err := client.New(session.SocketPath(sessionName))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for session %q: %w", sessionName, err)
	}
	defer func() { _ = c.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
