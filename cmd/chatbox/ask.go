package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/chatbox-go/internal/session"
	"github.com/comigor/chatbox-go/internal/transport"
)

// askConcurrency bounds how many queries are in flight at once.
const askConcurrency = 4

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask QUERY [QUERY...]",
		Short: "Send one or more queries and print the conversation",
		Long: "Send every query to the chat backend concurrently and print the resulting\n" +
			"conversation. Each reply is printed after the query it answers.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			client, err := transport.NewClient(cfg.Transport)
			if err != nil {
				return err
			}
			return ask(cmd.Context(), client, args, cmd.OutOrStdout())
		},
	}
}

// ask submits every query on one session and dispatches them concurrently.
// Transport failures become bot messages, so only write errors are returned.
func ask(ctx context.Context, f transport.Fetcher, queries []string, out io.Writer) error {
	sess := session.New(ctx)
	defer sess.Close()

	var reqs []*session.Request
	for _, q := range queries {
		sess.SetInput(q)
		if req, ok := sess.Submit(); ok {
			reqs = append(reqs, req)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(askConcurrency)
	for _, req := range reqs {
		req := req
		g.Go(func() error {
			// interrupted before this query was sent
			if err := gctx.Err(); err != nil {
				return err
			}
			sess.Apply(session.Dispatch(f, req))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ask interrupted: %w", err)
	}

	return writeTranscript(out, sess.Messages())
}

// writeTranscript prints each user message followed by the bot reply to the
// same request, whatever order the replies arrived in.
func writeTranscript(w io.Writer, messages []session.Message) error {
	replies := make(map[uuid.UUID][]session.Message)
	for _, m := range messages {
		if m.Sender == session.SenderBot {
			replies[m.RequestID] = append(replies[m.RequestID], m)
		}
	}
	for _, m := range messages {
		if m.Sender != session.SenderUser {
			continue
		}
		for _, line := range append([]session.Message{m}, replies[m.RequestID]...) {
			if _, err := fmt.Fprintf(w, "%s> %s\n", line.Sender, line.Text); err != nil {
				return err
			}
		}
	}
	return nil
}
