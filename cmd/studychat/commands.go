package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/antoniostano/studybuddy/internal/app"
	"github.com/antoniostano/studybuddy/internal/config"
	"github.com/antoniostano/studybuddy/internal/conversation"
	"github.com/antoniostano/studybuddy/internal/logging"
	"github.com/antoniostano/studybuddy/internal/observability"
)

type rootOptions struct {
	userID   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "studychat",
		Short:        "Chat with the study buddy from a terminal",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.userID, "user", "u", "learner", "learner ID whose conversation context is used")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	root.AddCommand(newChatCmd(opts), newContextCmd(opts), newHistoryCmd(opts), newResetCmd(opts))
	return root
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (/context, /history, /reset, /quit)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, built *app.BuildResult) error {
				return runChat(ctx, built, opts.userID, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

func newContextCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "context",
		Short: "Print the stored conversation context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, built *app.BuildResult) error {
				return printContext(ctx, built, opts.userID, cmd.OutOrStdout())
			})
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the redacted turn log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, built *app.BuildResult) error {
				return printHistory(ctx, built, opts.userID, limit, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of most recent turns to print (0 prints all retained)")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored conversation context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, built *app.BuildResult) error {
				if err := built.Chat.Reset(ctx, opts.userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "context reset for %s\n", opts.userID)
				return nil
			})
		},
	}
}

func withApp(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app.BuildResult) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(opts.logLevel, "console", cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	metrics := observability.NewMetricsWith(cfg.MetricsNamespace, prometheus.NewRegistry())
	built, err := app.Build(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = built.Cleanup() }()
	return fn(ctx, built)
}

func runChat(ctx context.Context, built *app.BuildResult, userID string, in io.Reader, out io.Writer) error {
	sess := built.Sessions.Create(userID)
	defer func() { _, _ = built.Sessions.End(sess.ID) }()

	fmt.Fprintf(out, "Hi %s! Ask me anything. Type /quit to leave.\n", userID)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/context":
			if err := printContext(ctx, built, userID, out); err != nil {
				return err
			}
			continue
		case "/history":
			if err := printHistory(ctx, built, userID, 0, out); err != nil {
				return err
			}
			continue
		case "/reset":
			if err := built.Chat.Reset(ctx, userID); err != nil {
				return err
			}
			fmt.Fprintln(out, "Okay, starting fresh.")
			continue
		}

		reply, err := built.Chat.HandleMessage(ctx, sess, line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply.String())
	}
}

func printContext(ctx context.Context, built *app.BuildResult, userID string, out io.Writer) error {
	st, err := built.Chat.Context(ctx, userID)
	if err != nil {
		return err
	}
	raw, err := conversation.EncodeState(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(raw))
	return err
}

func printHistory(ctx context.Context, built *app.BuildResult, userID string, limit int, out io.Writer) error {
	turns, err := built.Chat.History(ctx, userID, limit)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		_, err = fmt.Fprintln(out, "no turns logged")
		return err
	}
	for _, t := range turns {
		if _, err := fmt.Fprintf(out, "%s %-9s %s\n", t.CreatedAt.Format(time.RFC3339), t.Role, t.Content); err != nil {
			return err
		}
	}
	return nil
}
