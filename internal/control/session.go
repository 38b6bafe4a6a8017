// Package control runs the websocket control plane of an NDGR viewer: the
// startWatching handshake, keep-alive, comment forwarding and inbound dispatch.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// ErrSessionClosed is returned by Post once the session has stopped.
var ErrSessionClosed = errors.New("control: session closed")

// SetupError is a failure before the session became active. It is never
// retried.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("control setup: %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

var (
	meter = otel.Meter("NDGRClient/internal/control")

	keepAliveCounter, _ = meter.Int64Counter(
		"ndgr.control.keepalives",
		metric.WithDescription("keepSeat messages sent"),
	)
	pongCounter, _ = meter.Int64Counter(
		"ndgr.control.pongs",
		metric.WithDescription("pong replies sent"),
	)
	commentCounter, _ = meter.Int64Counter(
		"ndgr.control.comments",
		metric.WithDescription("postComment messages sent"),
	)
)

type options struct {
	logger      *slog.Logger
	dialer      *websocket.Dialer
	header      http.Header
	onReconnect func(Reconnect)
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithHeader sets extra headers for the upgrade request.
func WithHeader(h http.Header) Option {
	return func(o *options) {
		o.header = h
	}
}

// WithReconnectHandler is called from the dispatch goroutine for every
// reconnect request. The session itself never reconnects.
func WithReconnectHandler(fn func(Reconnect)) Option {
	return func(o *options) {
		o.onReconnect = fn
	}
}

// Session is one live control-plane connection.
type Session struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	viewURI      string
	keepInterval time.Duration
	logger       *slog.Logger
	onReconnect  func(Reconnect)
	outbox       *outbox

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// Open dials url, performs the startWatching handshake and starts the
// keep-alive, forwarding and dispatch goroutines. ctx bounds the handshake
// only; the session lives until Close or a fatal error.
func Open(ctx context.Context, url string, opts ...Option) (*Session, error) {
	o := options{
		logger: slog.Default(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	conn, resp, err := o.dialer.DialContext(ctx, url, o.header)
	if err != nil {
		if resp != nil {
			return nil, &SetupError{Op: "dial", Err: fmt.Errorf("status=%d: %w", resp.StatusCode, err)}
		}
		return nil, &SetupError{Op: "dial", Err: err}
	}

	s := &Session{
		conn:        conn,
		logger:      o.logger,
		onReconnect: o.onReconnect,
		outbox:      newOutbox(),
		done:        make(chan struct{}),
	}
	if s.onReconnect == nil {
		s.onReconnect = s.logReconnect
	}

	if err := s.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(3)
	go s.keepAlive()
	go s.forward()
	go s.readLoop()

	s.logger.Info("control session active",
		"view_uri", s.viewURI,
		"keep_interval", s.keepInterval.String())
	return s, nil
}

// handshake sends startWatching and waits for both messageServer and seat.
// Pings that arrive meanwhile are answered.
func (s *Session) handshake(ctx context.Context) error {
	// unblock ReadMessage once ctx ends
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := s.write(startWatching()); err != nil {
		return &SetupError{Op: "send startWatching", Err: err}
	}

	var haveURI, haveSeat bool
	for !haveURI || !haveSeat {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return &SetupError{Op: "await messageServer and seat", Err: err}
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			s.logger.Warn("ignoring malformed control message", "error", err)
			continue
		}

		switch m := msg.(type) {
		case MessageServer:
			if m.ViewURI == "" {
				return &SetupError{Op: "messageServer", Err: errors.New("empty viewUri")}
			}
			s.viewURI = m.ViewURI
			haveURI = true
		case Seat:
			if m.KeepIntervalSec <= 0 {
				return &SetupError{Op: "seat", Err: fmt.Errorf("invalid keepIntervalSec %d", m.KeepIntervalSec)}
			}
			s.keepInterval = time.Duration(m.KeepIntervalSec) * time.Second
			haveSeat = true
		case Ping:
			if err := s.sendPong(ctx); err != nil {
				return &SetupError{Op: "send pong", Err: err}
			}
		default:
			s.logger.Debug("control message during handshake", "type", msg.inboundType())
		}
	}

	if !stop() {
		return &SetupError{Op: "await messageServer and seat", Err: context.Cause(ctx)}
	}
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return &SetupError{Op: "clear read deadline", Err: err}
	}
	return nil
}

// ViewURI returns the entry endpoint handed over by the server.
func (s *Session) ViewURI() string {
	return s.viewURI
}

// KeepInterval returns the keep-alive period announced by the seat message.
func (s *Session) KeepInterval() time.Duration {
	return s.keepInterval
}

// Post queues text as a comment. It never blocks on the network.
func (s *Session) Post(text string) error {
	return s.outbox.push(text)
}

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the session, or nil after Close.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close stops the session and waits for its goroutines. Queued comments are
// discarded.
func (s *Session) Close() error {
	s.shutdown(nil)
	s.wg.Wait()
	return nil
}

func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = cause
		s.errMu.Unlock()

		s.cancel()
		if dropped := s.outbox.close(); dropped > 0 {
			s.logger.Info("discarded queued comments", "count", dropped)
		}

		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait))
		s.conn.Close()
		close(s.done)

		if cause != nil {
			s.logger.Warn("control session stopped", "error", cause)
		} else {
			s.logger.Info("control session closed")
		}
	})
}

// write sends one message as a single text frame under the write mutex.
func (s *Session) write(msg outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (s *Session) sendPong(ctx context.Context) error {
	if err := s.write(pong()); err != nil {
		return err
	}
	pongCounter.Add(ctx, 1)
	return nil
}

func (s *Session) keepAlive() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.keepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(keepSeat()); err != nil {
				s.shutdown(err)
				return
			}
			keepAliveCounter.Add(s.ctx, 1)
			s.logger.Debug("sent keepSeat")
		}
	}
}

func (s *Session) forward() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.outbox.ready():
		}

		for {
			text, ok := s.outbox.pop()
			if !ok {
				break
			}
			if err := s.write(postComment(text)); err != nil {
				s.shutdown(err)
				return
			}
			commentCounter.Add(s.ctx, 1)
			s.logger.Debug("posted comment", "length", len(text))
		}
	}
}

func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				s.shutdown(fmt.Errorf("read control message: %w", err))
			}
			return
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			s.logger.Warn("ignoring malformed control message", "error", err)
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg Inbound) {
	switch m := msg.(type) {
	case Ping:
		if err := s.sendPong(s.ctx); err != nil {
			s.shutdown(err)
		}
	case Reconnect:
		s.onReconnect(m)
	case Statistics:
		s.logger.Debug("statistics", "viewers", m.Viewers, "comments", m.Comments)
	default:
		s.logger.Debug("ignored control message", "type", msg.inboundType())
	}
}

func (s *Session) logReconnect(r Reconnect) {
	s.logger.Info("server requested reconnect, not acting on it",
		"wait_time_sec", r.WaitTimeSec)
}
