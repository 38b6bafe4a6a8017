package ndgr

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"NDGRClient/internal/payload"
)

// DefaultRetryInterval is the pause after an entry poll that failed.
const DefaultRetryInterval = time.Second

// ViewQuery is the cursor of the entry stream: either "now" or an explicit
// unix timestamp.
type ViewQuery struct {
	at    int64
	fixed bool
}

// Now is the cursor pointing at the latest entries.
func Now() ViewQuery {
	return ViewQuery{}
}

// At is the cursor pointing at unix time ts.
func At(ts int64) ViewQuery {
	return ViewQuery{at: ts, fixed: true}
}

// Timestamp returns the explicit timestamp, or false for Now.
func (q ViewQuery) Timestamp() (int64, bool) {
	return q.at, q.fixed
}

// String renders the value of the `at` query parameter.
func (q ViewQuery) String() string {
	if !q.fixed {
		return "now"
	}
	return strconv.FormatInt(q.at, 10)
}

// Traverser walks the entry endpoint of one view URI and flattens the
// segments it points at into a single ordered message sequence.
//
// The cursor is owned by the traverser; a Traverser must not be iterated from
// more than one goroutine.
type Traverser struct {
	base          *url.URL
	client        *http.Client
	logger        *slog.Logger
	retryInterval time.Duration
	cursor        ViewQuery
}

// TraverserOption configures a Traverser.
type TraverserOption func(*Traverser)

// WithHTTPClient sets the client used for entry and segment requests.
func WithHTTPClient(c *http.Client) TraverserOption {
	return func(t *Traverser) {
		if c != nil {
			t.client = c
		}
	}
}

// WithLogger sets the traverser logger.
func WithLogger(l *slog.Logger) TraverserOption {
	return func(t *Traverser) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithRetryInterval sets the pause after a failed entry poll.
func WithRetryInterval(d time.Duration) TraverserOption {
	return func(t *Traverser) {
		if d >= 0 {
			t.retryInterval = d
		}
	}
}

// WithCursor sets the cursor of the first poll.
func WithCursor(q ViewQuery) TraverserOption {
	return func(t *Traverser) {
		t.cursor = q
	}
}

// NewTraverser creates a traverser for the entry endpoint viewURI.
func NewTraverser(viewURI string, opts ...TraverserOption) (*Traverser, error) {
	base, err := url.Parse(viewURI)
	if err != nil {
		return nil, fmt.Errorf("parse view uri: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported view uri scheme %q", base.Scheme)
	}

	t := &Traverser{
		base:          base,
		client:        &http.Client{Timeout: 0}, // no timeout for long-lived chunked streams
		logger:        slog.Default(),
		retryInterval: DefaultRetryInterval,
		cursor:        Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Cursor returns the cursor the next entry poll will use.
func (t *Traverser) Cursor() ViewQuery {
	return t.cursor
}

// EntryURI returns the entry endpoint URL for the current cursor.
func (t *Traverser) EntryURI() string {
	u := *t.base
	q := u.Query()
	q.Set("at", t.cursor.String())
	u.RawQuery = q.Encode()
	return u.String()
}

// Messages returns the infinite message sequence. Entry polls are re-issued
// whenever the entry response ends; every segment is drained completely
// before the next entry is consumed. Errors are yielded as items and the walk
// continues as long as the consumer keeps pulling. The sequence ends when the
// consumer stops or ctx is done. In the latter case ctx.Err() is yielded once.
func (t *Traverser) Messages(ctx context.Context) iter.Seq2[*payload.ChunkedMessage, error] {
	return func(yield func(*payload.ChunkedMessage, error) bool) {
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			failed, ok := t.poll(ctx, yield)
			if !ok {
				return
			}

			if failed && t.retryInterval > 0 {
				timer := time.NewTimer(t.retryInterval)
				select {
				case <-ctx.Done():
					timer.Stop()
				case <-timer.C:
				}
			}
		}
	}
}

// poll runs one entry fetch. It reports whether the entry fetch ended in a
// transport error and whether the consumer still wants items.
func (t *Traverser) poll(ctx context.Context, yield func(*payload.ChunkedMessage, error) bool) (failed bool, ok bool) {
	uri := t.EntryURI()
	t.logger.Debug("polling entries", "uri", uri, "at", t.cursor.String())

	for entry, err := range Fetch(ctx, t.client, uri, payload.DecodeEntry) {
		if err != nil {
			if errors.Is(err, ErrTransport) {
				failed = true
			}
			t.logger.Warn("entry stream error", "uri", uri, "error", err)
			if !yield(nil, err) {
				return failed, false
			}
			continue
		}

		switch e := entry.(type) {
		case *payload.Next:
			t.cursor = At(e.At)
			t.logger.Debug("cursor advanced", "at", e.At)
		case *payload.Segment:
			if !t.drain(ctx, t.resolve(e.URI), yield) {
				return failed, false
			}
		default:
			// previous, backward and unknown entries carry nothing for a live view
		}
	}
	return failed, true
}

// resolve makes a segment reference absolute against the view URI.
func (t *Traverser) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return t.base.ResolveReference(u).String()
}

// drain yields every message of one segment.
func (t *Traverser) drain(ctx context.Context, uri string, yield func(*payload.ChunkedMessage, error) bool) bool {
	t.logger.Debug("draining segment", "uri", uri)

	for msg, err := range Fetch(ctx, t.client, uri, payload.DecodeMessage) {
		if err != nil {
			t.logger.Warn("segment stream error", "uri", uri, "error", err)
		}
		if !yield(msg, err) {
			return false
		}
	}
	return true
}
