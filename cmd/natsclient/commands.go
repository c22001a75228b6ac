package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/lisuiheng/natsclient-go/core"
	"github.com/lisuiheng/natsclient-go/logger"
	"github.com/spf13/cobra"
)

func pubCmd(a *app) *cobra.Command {
	var reply string
	var count int

	cmd := &cobra.Command{
		Use:   "pub <subject> <data>",
		Short: "Publish a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			for i := 0; i < count; i++ {
				if err := conn.Publish(args[0], reply, []byte(args[1])); err != nil {
					return err
				}
			}
			if err := conn.Flush(); err != nil {
				return err
			}
			logger.Info("Published", "subject", args[0], "count", count)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reply, "reply", "r", "", "Reply subject")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of messages to publish")
	return cmd
}

func subCmd(a *app) *cobra.Command {
	var queue string
	var max int

	cmd := &cobra.Command{
		Use:   "sub <subject>",
		Short: "Subscribe and print messages until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			sid, err := conn.Subscribe(args[0], queue)
			if err != nil {
				return err
			}
			if max > 0 {
				if err := conn.UnsubscribeAfter(sid, max); err != nil {
					return err
				}
			}
			logger.Info("Listening", "subject", args[0], "sid", sid)

			received := 0
			return pump(ctx, conn, func(msg *core.Msg) bool {
				received++
				fmt.Fprintf(cmd.OutOrStdout(), "[#%d] %s", received, msg.Subject)
				if msg.Reply != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " (reply: %s)", msg.Reply)
				}
				fmt.Fprintf(cmd.OutOrStdout(), ": %s\n", msg.Data)
				return max <= 0 || received < max
			})
		},
	}
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Queue group")
	cmd.Flags().IntVarP(&max, "max", "m", 0, "Exit after this many messages")
	return cmd
}

func reqCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "req <subject> <data>",
		Short: "Send a request and print the reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			inbox := core.NewInbox()
			sid, err := conn.Subscribe(inbox, "")
			if err != nil {
				return err
			}
			defer conn.Unsubscribe(sid)

			reply, err := conn.Request(ctx, args[0], inbox, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", reply)
			return nil
		},
	}
	return cmd
}

func replyCmd(a *app) *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "reply <subject> <response>",
		Short: "Answer every request on subject with a fixed response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			if _, err := conn.Subscribe(args[0], queue); err != nil {
				return err
			}
			response := []byte(args[1])
			return pump(ctx, conn, func(msg *core.Msg) bool {
				if msg.Reply == "" {
					return true
				}
				if err := conn.Publish(msg.Reply, "", response); err != nil {
					logger.Warn("Failed to reply", "reply", msg.Reply, "error", err)
				}
				return true
			})
		},
	}
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Queue group")
	return cmd
}

// pump polls the connection until ctx is done, the connection is closed or
// handle returns false. Pings are answered and server errors logged along
// the way.
func pump(ctx context.Context, conn *core.Conn, handle func(*core.Msg) bool) error {
	for ctx.Err() == nil && conn.Context().Err() == nil {
		ev, err := conn.WaitMessage()
		if err != nil {
			if errors.Is(err, core.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		switch ev := ev.(type) {
		case *core.Msg:
			if !handle(ev) {
				return nil
			}
		case core.Ping:
			if err := conn.SendPong(); err != nil {
				return err
			}
		case core.ServerErr:
			logger.Warn("Server reported error", "error", ev.Text)
		}
	}
	return nil
}
