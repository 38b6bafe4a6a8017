package viewer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"NDGRClient/internal/config"
	"NDGRClient/internal/control"
	"NDGRClient/internal/display"
	"NDGRClient/internal/ndgr"
	"NDGRClient/internal/program"
	"NDGRClient/internal/telemetry"
)

// ErrProgramEnded is returned when the program page reports an ended program.
var ErrProgramEnded = errors.New("viewer: program has ended")

const quitCommand = "/quit"

// Viewer connects one terminal to one live program
type Viewer struct {
	config     config.Config
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	httpClient *http.Client
	dialer     *websocket.Dialer

	displayed metric.Int64Counter
	posted    metric.Int64Counter
	reconnect metric.Int64Counter
}

// Option configures a Viewer.
type Option func(*Viewer)

// WithHTTPClient sets the client for the program page and the NDGR endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Viewer) {
		if c != nil {
			v.httpClient = c
		}
	}
}

// WithDialer sets the websocket dialer of the control session.
func WithDialer(d *websocket.Dialer) Option {
	return func(v *Viewer) {
		if d != nil {
			v.dialer = d
		}
	}
}

// WithTelemetry sets the tracer and meter used for run-level spans and counters.
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(v *Viewer) {
		if tracer != nil {
			v.tracer = tracer
		}
		if meter != nil {
			v.meter = meter
		}
	}
}

// New creates a Viewer.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Viewer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	tracer, meter, _ := telemetry.Noop()
	v := &Viewer{
		config:     cfg,
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
		httpClient: &http.Client{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	v.httpClient = withUserAgent(v.httpClient, cfg.UserAgent)

	var err error
	if v.displayed, err = v.meter.Int64Counter("ndgr.viewer.displayed",
		metric.WithDescription("Messages rendered to the terminal")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if v.posted, err = v.meter.Int64Counter("ndgr.viewer.posted",
		metric.WithDescription("Input lines queued as comments")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	if v.reconnect, err = v.meter.Int64Counter("ndgr.viewer.reconnect_requests",
		metric.WithDescription("Reconnect requests observed on the control socket")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}
	return v, nil
}

// Run watches programURL until ctx ends, the control session stops, or a
// /quit line is read from in. Other lines from in are posted as comments;
// the end of in only stops posting.
func (v *Viewer) Run(ctx context.Context, programURL string, in io.Reader, out io.Writer) (err error) {
	logger := v.logger.With("run_id", uuid.NewString())

	ctx, span := v.tracer.Start(ctx, "viewer.run", trace.WithAttributes(attribute.String("program.url", programURL)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	info, err := program.Fetch(ctx, v.httpClient, programURL)
	if err != nil {
		return fmt.Errorf("fetch program info: %w", err)
	}
	span.SetAttributes(attribute.String("program.id", info.Program.NicoliveProgramID))
	logger.Info("fetched program info",
		"program_id", info.Program.NicoliveProgramID,
		"title", info.Program.Title,
		"status", info.Program.Status)
	if info.Ended() {
		return fmt.Errorf("%w: %s", ErrProgramEnded, info.Program.NicoliveProgramID)
	}

	sess, err := v.openSession(ctx, info.Site.Relive.WebSocketURL, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	trav, err := ndgr.NewTraverser(sess.ViewURI(),
		ndgr.WithHTTPClient(v.httpClient),
		ndgr.WithLogger(logger),
		ndgr.WithRetryInterval(v.config.RetryInterval),
	)
	if err != nil {
		return fmt.Errorf("create traverser: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	go v.readInput(runCtx, in, sess, cancel, logger)

	renderer := display.NewRenderer(out,
		display.NewCommentBuffer(v.config.DisplayWidth, v.config.DisplayHeight),
		header(info))
	if err := renderer.Redraw(); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	for msg, err := range trav.Messages(runCtx) {
		if err != nil {
			if runCtx.Err() != nil {
				break
			}
			logger.Warn("stream error", "error", err)
			continue
		}

		line, ok := display.Format(msg)
		if !ok {
			continue
		}
		if err := renderer.Add(line); err != nil {
			return fmt.Errorf("render: %w", err)
		}
		v.displayed.Add(runCtx, 1)
	}

	if err := sess.Err(); err != nil {
		return fmt.Errorf("control session: %w", err)
	}
	logger.Info("viewer stopped", "cursor", trav.Cursor().String())
	return nil
}

func (v *Viewer) openSession(ctx context.Context, url string, logger *slog.Logger) (*control.Session, error) {
	openCtx := ctx
	if v.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, v.config.HandshakeTimeout)
		defer cancel()
	}

	h := http.Header{}
	if v.config.UserAgent != "" {
		h.Set("User-Agent", v.config.UserAgent)
	}

	sess, err := control.Open(openCtx, url,
		control.WithLogger(logger),
		control.WithDialer(v.dialer),
		control.WithHeader(h),
		control.WithReconnectHandler(func(r control.Reconnect) {
			v.reconnect.Add(context.Background(), 1)
			logger.Info("server requested reconnect, not acting on it", "wait_time_sec", r.WaitTimeSec)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("open control session: %w", err)
	}
	return sess, nil
}

// readInput posts each non-empty line of in. A /quit line cancels the run.
func (v *Viewer) readInput(ctx context.Context, in io.Reader, sess *control.Session, quit context.CancelFunc, logger *slog.Logger) {
	if in == nil {
		return
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == quitCommand {
			quit()
			return
		}

		if err := sess.Post(input); err != nil {
			logger.Warn("failed to post comment", "error", err)
			return
		}
		v.posted.Add(ctx, 1)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("input read failed", "error", err)
	}
}

func header(info *program.Info) string {
	if info.Program.Title == "" {
		return ""
	}
	return fmt.Sprintf("=== %s (%s) ===", info.Program.Title, info.Program.NicoliveProgramID)
}
