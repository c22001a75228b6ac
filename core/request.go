package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const inboxPrefix = "_INBOX."

// NewInbox returns a unique reply subject.
func NewInbox() string {
	return inboxPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Request publishes data to subject with inbox as the reply subject and
// waits for a message delivered on inbox. The caller must already be
// subscribed to inbox.
//
// The wait is bounded by the read timeout or the context deadline,
// whichever is earlier. Events that are not the reply are kept and handed
// out by later WaitMessage calls, so traffic of other subscriptions is not
// lost.
func (c *Conn) Request(ctx context.Context, subject, inbox string, data []byte) ([]byte, error) {
	if !validSubject(inbox) {
		return nil, fmt.Errorf("%w: inbox %q", ErrBadSubject, inbox)
	}

	ctx, span := c.tracer.Start(ctx, "natsclient.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("natsclient.subject", subject),
			attribute.String("natsclient.inbox", inbox),
			attribute.Int("natsclient.payload_size", len(data)),
		))
	defer span.End()

	start := time.Now()
	reply, err := c.request(ctx, subject, inbox, data, start)
	result := "ok"
	switch {
	case err == nil:
		span.SetAttributes(attribute.Int("natsclient.reply_size", len(reply)))
		span.SetStatus(codes.Ok, "")
	case isTimeout(err):
		result = "timeout"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.metrics.requestDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return reply, err
}

func (c *Conn) request(ctx context.Context, subject, inbox string, data []byte, start time.Time) ([]byte, error) {
	deadline := start.Add(c.cfg.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// Hold the reader side from before the publish so no concurrent
	// WaitMessage can take the reply.
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if err := c.Publish(subject, inbox, data); err != nil {
		return nil, err
	}
	if c.cfg.ManualFlush {
		if err := c.Flush(); err != nil {
			return nil, err
		}
	}

	for {
		if c.closed.Load() {
			return nil, ErrConnectionClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: no reply on %s", ErrTimeout, inbox)
		}

		ev, err := c.next(remaining)
		if err != nil {
			return nil, err
		}
		switch ev := ev.(type) {
		case *Msg:
			if ev.Subject == inbox {
				return ev.Data, nil
			}
			c.pending.Add(ev)
		case None, Timeout:
		default:
			c.pending.Add(ev)
		}
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
