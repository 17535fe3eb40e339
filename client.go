package kdb

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/encoding"

	"github.com/st-keller/kdb-client/ipc"
	"github.com/st-keller/kdb-client/stats"
	"github.com/st-keller/kdb-client/transport"
	"github.com/st-keller/kdb-client/types"
)

const instrumentationName = "github.com/st-keller/kdb-client"

// certExpiryWarning is how far ahead expiring client certificates are logged at dial.
const certExpiryWarning = 30 * 24 * time.Hour

// MessageHandler receives async and sync messages the server pushes while the
// client waits for a response.
type MessageHandler func(ipc.MessageType, any)

// Message is an incoming message returned by Receive.
type Message struct {
	Type  ipc.MessageType
	Value any
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMessageHandler sets the handler for messages pushed by the server.
// Without one they are logged and dropped.
func WithMessageHandler(h MessageHandler) Option {
	return func(c *Client) { c.handler = h }
}

// WithTracker shares a stats tracker between clients.
func WithTracker(t *stats.Tracker) Option {
	return func(c *Client) {
		if t != nil {
			c.tracker = t
		}
	}
}

// Client is a connection to one kdb+ process. It is safe for concurrent use;
// round trips are serialised.
type Client struct {
	cfg      Config
	addr     string
	dialer   *transport.Dialer
	charset  encoding.Encoding
	compress bool
	handler  MessageHandler

	logger   *slog.Logger
	logs     *stats.RecentLogs
	tracker  *stats.Tracker
	tracer   trace.Tracer
	duration metric.Float64Histogram
	failures metric.Int64Counter
	attrs    []attribute.KeyValue

	// life is cancelled by Close to interrupt blocked I/O.
	life   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conn  net.Conn
	r     *bufio.Reader
	codec *ipc.Codec
}

// Dial connects and authenticates to the q process described by cfg.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	charset, err := ipc.LookupCharset(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := transport.BuildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}

	c := &Client{
		cfg:  cfg,
		addr: cfg.Address(),
		dialer: &transport.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
			TLS:       tlsConfig,
			Proxy:     cfg.Proxy,
		},
		charset: charset,
		logger:  slog.Default(),
		logs:    stats.NewRecentLogs(100),
		tracker: stats.NewTracker(),
		tracer:  otel.Tracer(instrumentationName),
		attrs: []attribute.KeyValue{
			semconv.DBSystemKey.String("kdb"),
			semconv.ServerAddress(cfg.Host),
			semconv.ServerPort(cfg.Port),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = slog.New(c.logs.Handler(c.logger.Handler())).With("endpoint", c.addr)
	if err := c.initMetrics(); err != nil {
		return nil, err
	}

	c.compress = cfg.Compress && !isLoopback(ctx, cfg.Host)
	c.warnExpiringCertificates(tlsConfig)
	c.life, c.cancel = context.WithCancel(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		c.cancel()
		return nil, err
	}
	return c, nil
}

func (c *Client) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	var err error
	c.duration, err = meter.Float64Histogram("kdb.client.operation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of kdb+ round trips"),
	)
	if err != nil {
		return fmt.Errorf("create duration histogram: %w", err)
	}
	c.failures, err = meter.Int64Counter("kdb.client.errors",
		metric.WithDescription("Failed kdb+ round trips"),
	)
	if err != nil {
		return fmt.Errorf("create error counter: %w", err)
	}
	return nil
}

func (c *Client) warnExpiringCertificates(tlsConfig *tls.Config) {
	certs, err := transport.ExpiringCertificates(tlsConfig, certExpiryWarning, time.Now())
	if err != nil {
		c.logger.Warn("kdb client certificate unreadable", "error", err)
		return
	}
	for _, cert := range certs {
		c.logger.Warn("kdb client certificate expiring",
			"subject", cert.Subject,
			"valid_until", cert.ValidUntil.Format(time.RFC3339),
			"days_until_expiry", cert.DaysUntilExpiry,
			"expired", cert.IsExpired,
		)
	}
}

// ============================================================================
// CONNECTION
// ============================================================================

// connect dials and handshakes, retrying with exponential backoff. c.mu must be held.
func (c *Client) connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	type session struct {
		conn    net.Conn
		version int
	}
	s, err := backoff.Retry(ctx, func() (session, error) {
		conn, err := c.dialer.DialContext(ctx, c.addr)
		if err != nil {
			return session{}, err
		}
		version, err := c.handshake(ctx, conn)
		if err != nil {
			_ = conn.Close()
			if errors.Is(err, ErrAccessDenied) {
				return session{}, backoff.Permanent(err)
			}
			return session{}, err
		}
		return session{conn: conn, version: version}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.DialAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("kdb dial failed, retrying", "error", err, "retry_in", next.String())
		}),
	)
	if err != nil {
		if c.life.Err() != nil {
			return ErrClosed
		}
		return fmt.Errorf("connect %s: %w", c.addr, err)
	}

	c.conn = s.conn
	c.r = bufio.NewReaderSize(s.conn, c.cfg.BufferSize)
	c.codec = ipc.NewCodec(
		ipc.WithCharset(c.charset),
		ipc.WithVersion(s.version),
		ipc.WithCompression(c.compress),
		ipc.WithMaxMessageSize(c.cfg.MaxMessageSize),
	)
	c.logger.Info("kdb connected", "version", s.version, "compression", c.compress, "tls", c.dialer.TLS != nil)
	return nil
}

// handshake sends the credentials and returns the negotiated capability.
func (c *Client) handshake(ctx context.Context, conn net.Conn) (int, error) {
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}
	stop := c.bind(ctx, conn)
	defer stop()

	codec := ipc.NewCodec(ipc.WithCharset(c.charset))
	if _, err := conn.Write(codec.Credentials(c.cfg.Username, c.cfg.Password)); err != nil {
		return 0, c.ioErr(ctx, fmt.Errorf("handshake: %w", err))
	}

	var reply [1]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) {
			return 0, ErrAccessDenied
		}
		return 0, c.ioErr(ctx, fmt.Errorf("handshake: %w", err))
	}
	return min(int(reply[0]), ipc.Version), nil
}

// ensureConn makes sure a connection is open, redialling when Reconnect is set. c.mu must be held.
func (c *Client) ensureConn(ctx context.Context) error {
	if c.life.Err() != nil {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}
	if !c.cfg.Reconnect {
		return ErrClosed
	}
	c.logger.Info("kdb reconnecting")
	return c.connect(ctx)
}

// drop closes a connection whose stream state is no longer known. c.mu must be held.
func (c *Client) drop(err error) {
	if c.conn == nil {
		return
	}
	if c.life.Err() == nil {
		c.logger.Warn("kdb connection dropped", "error", err)
	}
	_ = c.conn.Close()
	c.conn, c.r = nil, nil
}

// bind expires conn's deadline once ctx is done or the client is closed, until the
// returned stop is called.
func (c *Client) bind(ctx context.Context, conn net.Conn) func() {
	_ = conn.SetDeadline(time.Time{})
	var mu sync.Mutex
	stopped := false
	expire := func() {
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			_ = conn.SetDeadline(time.Unix(1, 0))
		}
	}
	stopCtx := context.AfterFunc(ctx, expire)
	stopLife := context.AfterFunc(c.life, expire)
	return func() {
		stopCtx()
		stopLife()
		// An expire already running finishes before stop returns.
		mu.Lock()
		stopped = true
		mu.Unlock()
	}
}

func (c *Client) ioErr(ctx context.Context, err error) error {
	if c.life.Err() != nil {
		return ErrClosed
	}
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}

// ============================================================================
// MESSAGES
// ============================================================================

// exchange sends v as a message of type t and, for sync messages, waits for the response.
func (c *Client) exchange(ctx context.Context, t ipc.MessageType, v any) (result any, err error) {
	ctx, span := c.tracer.Start(ctx, "kdb."+t.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.attrs...),
	)
	start := time.Now()
	defer func() {
		c.observe(ctx, span, t.String(), time.Since(start), err)
		span.End()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(ctx); err != nil {
		return nil, err
	}
	msg, err := c.codec.EncodeMessage(t, v)
	if err != nil {
		return nil, err
	}
	if err := c.checkSize(len(msg)); err != nil {
		return nil, err
	}

	stop := c.bind(ctx, c.conn)
	defer stop()

	if _, err := c.conn.Write(msg); err != nil {
		c.drop(err)
		return nil, c.ioErr(ctx, fmt.Errorf("write: %w", err))
	}
	if t == ipc.Async {
		return nil, nil
	}

	for {
		h, v, err := c.read(ctx)
		switch {
		case c.conn == nil:
			return nil, err
		case h.Type == ipc.Response:
			return v, err
		case err != nil:
			c.logger.Warn("kdb incoming message undecodable", "type", h.Type.String(), "error", err)
		default:
			if err := c.dispatch(ctx, h.Type, v); err != nil {
				return nil, err
			}
		}
	}
}

// read reads and decodes one message. I/O, framing and size errors drop the connection;
// other decode errors leave it usable. c.mu must be held.
func (c *Client) read(ctx context.Context) (ipc.Header, any, error) {
	var hdr [ipc.HeaderSize]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		c.drop(err)
		return ipc.Header{}, nil, c.ioErr(ctx, fmt.Errorf("read header: %w", err))
	}
	h, err := ipc.ParseHeader(hdr[:])
	if err != nil {
		c.drop(err)
		return h, nil, err
	}
	if err := c.checkSize(int(h.Size)); err != nil {
		c.drop(err)
		return h, nil, err
	}

	msg := make([]byte, h.Size)
	copy(msg, hdr[:])
	if _, err := io.ReadFull(c.r, msg[ipc.HeaderSize:]); err != nil {
		c.drop(err)
		return h, nil, c.ioErr(ctx, fmt.Errorf("read message: %w", err))
	}
	_, v, err := c.codec.DecodeMessage(msg)
	if errors.Is(err, ErrMessageTooLarge) {
		c.drop(err)
	}
	return h, v, err
}

// dispatch hands a pushed message to the handler. Sync messages are answered with
// an error since the server blocks until it gets a response. c.mu must be held.
func (c *Client) dispatch(ctx context.Context, t ipc.MessageType, v any) error {
	if c.handler != nil {
		c.handler(t, v)
	} else {
		c.logger.Debug("kdb incoming message dropped", "type", t.String())
	}
	if t != ipc.Sync {
		return nil
	}
	return c.refuse(ctx)
}

// refuse answers a sync request from the server with 'nyi. c.mu must be held.
func (c *Client) refuse(ctx context.Context) error {
	reply, err := c.codec.EncodeMessage(ipc.Response, &ipc.RemoteError{Message: "nyi"})
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(reply); err != nil {
		c.drop(err)
		return c.ioErr(ctx, fmt.Errorf("write: %w", err))
	}
	return nil
}

func (c *Client) checkSize(n int) error {
	if c.cfg.MaxMessageSize > 0 && n > c.cfg.MaxMessageSize {
		return fmt.Errorf("%d bytes exceeds %d: %w", n, c.cfg.MaxMessageSize, ErrMessageTooLarge)
	}
	return nil
}

func (c *Client) observe(ctx context.Context, span trace.Span, op string, latency time.Duration, err error) {
	attrs := metric.WithAttributes(append(slices.Clip(c.attrs), attribute.String("kdb.operation", op))...)
	c.duration.Record(ctx, latency.Seconds(), attrs)
	if err != nil {
		c.failures.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.tracker.TrackFailure(c.addr, latency, err.Error())
		return
	}
	c.tracker.TrackSuccess(c.addr, latency)
}

// ============================================================================
// PUBLIC API
// ============================================================================

// Query evaluates a q expression and returns its result. Errors raised by q are
// returned as *ipc.RemoteError.
func (c *Client) Query(ctx context.Context, expr string) (any, error) {
	return c.exchange(ctx, ipc.Sync, types.Chars(expr))
}

// Call applies the named function to args on the server.
func (c *Client) Call(ctx context.Context, fn string, args ...any) (any, error) {
	list := make([]any, 0, len(args)+1)
	list = append(list, types.Chars(fn))
	list = append(list, args...)
	return c.exchange(ctx, ipc.Sync, list)
}

// Send sends v as a sync message and returns the response.
func (c *Client) Send(ctx context.Context, v any) (any, error) {
	return c.exchange(ctx, ipc.Sync, v)
}

// Async sends v without waiting for a response.
func (c *Client) Async(ctx context.Context, v any) error {
	_, err := c.exchange(ctx, ipc.Async, v)
	return err
}

// Receive blocks until the server pushes a message, e.g. a subscription update.
// Other calls wait while Receive is blocked; bound it with ctx. A sync request is
// returned too, after it has been answered with 'nyi.
func (c *Client) Receive(ctx context.Context) (msg Message, err error) {
	ctx, span := c.tracer.Start(ctx, "kdb.receive",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.attrs...),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(ctx); err != nil {
		return Message{}, err
	}
	stop := c.bind(ctx, c.conn)
	defer stop()

	h, v, err := c.read(ctx)
	if c.conn != nil && h.Type == ipc.Sync {
		if rerr := c.refuse(ctx); rerr != nil {
			return Message{Type: h.Type}, rerr
		}
	}
	if err != nil {
		return Message{Type: h.Type}, err
	}
	return Message{Type: h.Type, Value: v}, nil
}

// Version returns the negotiated IPC capability, or 0 when disconnected.
func (c *Client) Version() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.codec == nil {
		return 0
	}
	return c.codec.Version()
}

// Stats returns the call statistics of the client's tracker.
func (c *Client) Stats() []stats.EndpointStats {
	return c.tracker.Snapshot()
}

// RecentLogs returns the latest warnings and errors the client logged.
func (c *Client) RecentLogs() []stats.LogEntry {
	return c.logs.Entries()
}

// Close closes the connection. Blocked calls return ErrClosed.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.r = nil, nil
	return err
}

// isLoopback reports whether host resolves only to loopback or unspecified addresses.
func isLoopback(ctx context.Context, host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return false
	}
	for _, a := range addrs {
		if !a.IP.IsLoopback() && !a.IP.IsUnspecified() {
			return false
		}
	}
	return true
}
