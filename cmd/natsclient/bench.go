package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lisuiheng/natsclient-go/core"
	"github.com/lisuiheng/natsclient-go/logger"
	"github.com/spf13/cobra"
)

type benchResult struct {
	Requests int
	Failed   int
	Elapsed  time.Duration
}

func (r benchResult) rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Requests-r.Failed) / r.Elapsed.Seconds()
}

func benchCmd(a *app) *cobra.Command {
	var requests, size int
	var subject string

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure request/reply round trips between two connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requests <= 0 {
				return errors.New("requests must be positive")
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			responder, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer responder.Close()
			requester, err := a.dial(ctx)
			if err != nil {
				return err
			}
			defer requester.Close()

			res, err := runBench(ctx, responder, requester, subject, requests, size)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d requests, %d failed in %s (%.0f req/s)\n",
				res.Requests, res.Failed, res.Elapsed.Round(time.Millisecond), res.rate())
			return nil
		},
	}
	cmd.Flags().IntVarP(&requests, "requests", "n", 1000, "Number of requests")
	cmd.Flags().IntVar(&size, "size", 16, "Payload size in bytes")
	cmd.Flags().StringVar(&subject, "subject", "natsclient.bench", "Subject served by the responder")
	return cmd
}

// runBench echoes requests on responder and times n requests from
// requester. Requests that fail are counted, not fatal.
func runBench(ctx context.Context, responder, requester *core.Conn, subject string, n, size int) (benchResult, error) {
	if _, err := responder.Subscribe(subject, ""); err != nil {
		return benchResult{}, err
	}
	inbox := core.NewInbox()
	if _, err := requester.Subscribe(inbox, ""); err != nil {
		return benchResult{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := pump(ctx, responder, func(msg *core.Msg) bool {
			if msg.Reply != "" {
				if err := responder.Publish(msg.Reply, "", msg.Data); err != nil {
					logger.Warn("Failed to echo", "error", err)
				}
			}
			return true
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("Responder stopped", "error", err)
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	payload := make([]byte, size)
	for i := range payload {
		payload[i] = 'a' + byte(i%26)
	}

	// The two subscriptions travel on separate connections, so the first
	// requests may race the responder's SUB.
	var warm error
	for i := 0; i < 5; i++ {
		if _, warm = requester.Request(ctx, subject, inbox, payload); warm == nil {
			break
		}
	}
	if warm != nil {
		return benchResult{}, fmt.Errorf("responder not reachable: %w", warm)
	}

	res := benchResult{Requests: n}
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := requester.Request(ctx, subject, inbox, payload); err != nil {
			res.Failed++
			logger.Debug("Request failed", "seq", i, "error", err)
		}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}
