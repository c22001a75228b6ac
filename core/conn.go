package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/lisuiheng/natsclient-go/pkg/interfaces"
	"github.com/lisuiheng/natsclient-go/pool"
	"github.com/lisuiheng/natsclient-go/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lisuiheng/natsclient-go"

// Conn is a single client connection. It keeps no subscription table: sids
// returned by Subscribe are matched against Msg.Sid by the caller.
//
// Readers (WaitMessage, Request) and writers (Subscribe, Unsubscribe,
// Publish, SendPong, Flush) are serialized separately, so one goroutine may
// wait for messages while others publish.
type Conn struct {
	cfg       Config
	opts      ConnectOptions
	info      ServerInfo
	transport interfaces.Transport
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer

	wmu sync.Mutex
	bw  *bufio.Writer

	rmu     sync.Mutex
	dec     *decoder
	pending *queue.Queue

	sid       atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

type Option func(*dialOptions)

type dialOptions struct {
	logger    *slog.Logger
	metrics   *Metrics
	pool      *pool.Pool
	transport interfaces.Transport
	tracer    trace.TracerProvider
	retry     utils.RetryStrategy
}

func WithLogger(l *slog.Logger) Option {
	return func(o *dialOptions) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *dialOptions) { o.metrics = m }
}

func WithPool(p *pool.Pool) Option {
	return func(o *dialOptions) { o.pool = p }
}

// WithTransport uses an already connected transport instead of dialing one
// from the configuration.
func WithTransport(t interfaces.Transport) Option {
	return func(o *dialOptions) { o.transport = t }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *dialOptions) { o.tracer = tp }
}

// WithRetryStrategy sets the delays between dial attempts. The default is
// exponential backoff from 100ms to 5s.
func WithRetryStrategy(r utils.RetryStrategy) Option {
	return func(o *dialOptions) { o.retry = r }
}

// Create connects to host:port over TCP. readTimeout bounds every wait for
// a frame; zero selects DefaultReadTimeout.
func Create(ctx context.Context, host string, port int, opts ConnectOptions, manualFlush bool, readTimeout time.Duration, options ...Option) (*Conn, error) {
	cfg := DefaultConfig()
	cfg.Server.Host = host
	cfg.Server.Port = port
	cfg.Connect = opts
	cfg.ManualFlush = manualFlush
	cfg.ReadTimeout = readTimeout
	return Dial(ctx, cfg, options...)
}

// Dial opens the transport described by cfg and performs the handshake.
// Everything acquired is released again if any step fails.
func Dial(ctx context.Context, cfg Config, options ...Option) (*Conn, error) {
	cfg = cfg.withDefaults()
	o := dialOptions{}
	for _, option := range options {
		option(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	if o.pool == nil {
		o.pool = pool.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider()
	}
	if o.retry == nil {
		o.retry = utils.NewExponentialBackoff()
	}
	tracer := o.tracer.Tracer(tracerName)

	ctx, span := tracer.Start(ctx, "natsclient.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("natsclient.transport", cfg.Server.Transport),
			attribute.String("natsclient.host", cfg.Server.Host),
			attribute.Int("natsclient.port", cfg.Server.Port),
		))
	defer span.End()

	c, err := dial(ctx, cfg, o, tracer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("natsclient.server_id", c.info.ServerID))
	span.SetStatus(codes.Ok, "")
	return c, nil
}

func dial(ctx context.Context, cfg Config, o dialOptions, tracer trace.Tracer) (*Conn, error) {
	log := o.logger
	transport := o.transport
	if transport == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		t, err := NewProtocol(cfg)
		if err != nil {
			log.Error("Failed to create transport", "error", err)
			return nil, err
		}
		log.Info("Connecting to server",
			"host", cfg.Server.Host,
			"port", cfg.Server.Port,
			"transport", t.ProtocolType())
		if err := connectWithRetry(ctx, t, cfg.Server.DialAttempts, o.retry, log); err != nil {
			t.Close()
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		transport = t
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cfg:       cfg,
		opts:      cfg.Connect,
		transport: transport,
		logger:    log,
		metrics:   o.metrics,
		tracer:    tracer,
		bw:        bufio.NewWriterSize(transport, cfg.BufferSize),
		dec:       newDecoder(transport, o.pool, cfg.BufferSize),
		pending:   queue.New(),
		ctx:       connCtx,
		cancel:    cancel,
	}

	info, err := handshake(c.dec, c.bw, c.opts, cfg.ReadTimeout)
	if err != nil {
		log.Error("Handshake failed", "error", err)
		c.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.info = info
	c.dec.maxPayload = info.MaxPayload

	log.Info("Connected to server",
		"server_id", info.ServerID,
		"version", info.Version,
		"max_payload", info.MaxPayload)
	return c, nil
}

func connectWithRetry(ctx context.Context, t interfaces.Transport, attempts int, backoff utils.RetryStrategy, log *slog.Logger) error {
	backoff.Reset()
	for attempt := 1; ; attempt++ {
		err := t.Connect(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts {
			return err
		}
		delay := backoff.NextDelay()
		log.Warn("Dial failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// ServerInfo returns the INFO received during the handshake.
func (c *Conn) ServerInfo() ServerInfo {
	return c.info
}

// Context is cancelled when the connection is closed.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Subscribe allocates the next sid and sends SUB. group names a queue
// group and may be empty.
func (c *Conn) Subscribe(subject, group string) (int64, error) {
	if !validSubject(subject) {
		return 0, fmt.Errorf("%w: %q", ErrBadSubject, subject)
	}
	if !validToken(group) {
		return 0, fmt.Errorf("%w: queue group %q", ErrBadSubject, group)
	}
	sid := c.sid.Add(1)
	if err := c.write(opSub, func(w *bufio.Writer) error {
		return writeSub(w, subject, group, sid)
	}); err != nil {
		return 0, err
	}
	c.logger.Debug("Subscribed", "subject", subject, "queue", group, "sid", sid)
	return sid, nil
}

// Unsubscribe removes the subscription immediately.
func (c *Conn) Unsubscribe(sid int64) error {
	return c.UnsubscribeAfter(sid, 0)
}

// UnsubscribeAfter lets the server deliver max more messages before it
// removes the subscription. max <= 0 unsubscribes immediately.
func (c *Conn) UnsubscribeAfter(sid int64, max int) error {
	if err := c.write(opUnsub, func(w *bufio.Writer) error {
		return writeUnsub(w, sid, max)
	}); err != nil {
		return err
	}
	c.logger.Debug("Unsubscribed", "sid", sid, "max", max)
	return nil
}

// Publish sends data to subject. reply may be empty.
func (c *Conn) Publish(subject, reply string, data []byte) error {
	if !validSubject(subject) {
		return fmt.Errorf("%w: %q", ErrBadSubject, subject)
	}
	if !validToken(reply) {
		return fmt.Errorf("%w: reply %q", ErrBadSubject, reply)
	}
	if max := c.info.MaxPayload; max > 0 && int64(len(data)) > max {
		return fmt.Errorf("%w: %d > %d", ErrMaxPayload, len(data), max)
	}
	if err := c.write(opPub, func(w *bufio.Writer) error {
		return writePub(w, subject, reply, data)
	}); err != nil {
		return err
	}
	c.metrics.observePublish(len(data))
	return nil
}

// SendPong answers a Ping event.
func (c *Conn) SendPong() error {
	return c.write(opPong, writePong)
}

// Flush writes out buffered frames. Only needed with ManualFlush.
func (c *Conn) Flush() error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func (c *Conn) write(op string, encode func(w *bufio.Writer) error) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := encode(c.bw); err != nil {
		return fmt.Errorf("failed to write %s: %w", op, err)
	}
	if c.cfg.ManualFlush {
		return nil
	}
	if err := c.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", op, err)
	}
	return nil
}

// WaitMessage performs one decode step and returns its event. None and
// Timeout are normal results; callers loop until they get something to act
// on. Events set aside by Request are returned first, in arrival order.
func (c *Conn) WaitMessage() (Event, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if c.pending.Length() > 0 {
		return c.pending.Remove().(Event), nil
	}
	return c.next(c.cfg.ReadTimeout)
}

// next must be called with rmu held.
func (c *Conn) next(timeout time.Duration) (Event, error) {
	ev, err := c.dec.consumeOne(timeout)
	if err != nil {
		if c.closed.Load() {
			return nil, ErrConnectionClosed
		}
		c.logger.Error("Failed to read from server", "error", err)
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	c.metrics.observeEvent(ev)
	if se, ok := ev.(ServerErr); ok {
		c.logger.Warn("Server error", "error", se.Text)
	}
	return ev, nil
}

// Close cancels the connection context, closes the transport and returns the
// receive buffer to its pool. It is safe to call more than once. A read
// already waiting for data finishes before the buffer is released, so Close
// itself can block for up to ReadTimeout while another goroutine is inside
// WaitMessage or Request.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		if cerr := c.transport.Close(); cerr != nil && !errors.Is(cerr, interfaces.ErrClosed) {
			c.logger.Error("Failed to close transport", "error", cerr)
			err = cerr
		}

		c.rmu.Lock()
		c.dec.release()
		c.rmu.Unlock()

		c.logger.Info("Connection closed")
	})
	return err
}
