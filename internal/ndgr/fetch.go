// Package ndgr retrieves NDGR chunked streams over HTTP: the entry endpoint
// that carries cursor and segment pointers, and the segment endpoints that
// carry the chat messages themselves.
package ndgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"NDGRClient/internal/stream"
)

var (
	// ErrTransport marks request, status and body read failures. It ends the
	// sequence it occurs in.
	ErrTransport = errors.New("ndgr: transport error")
	// ErrDecode marks a frame that could not be parsed.
	ErrDecode = errors.New("ndgr: decode error")
)

const readChunkSize = 32 * 1024

var (
	tracer = otel.Tracer("NDGRClient/internal/ndgr")
	meter  = otel.Meter("NDGRClient/internal/ndgr")

	frameCounter, _ = meter.Int64Counter(
		"ndgr.frames",
		metric.WithDescription("Frames decoded from chunked streams"),
	)
	decodeErrorCounter, _ = meter.Int64Counter(
		"ndgr.decode_errors",
		metric.WithDescription("Frames that failed to decode"),
	)
	fetchDuration, _ = meter.Float64Histogram(
		"ndgr.fetch.duration",
		metric.WithDescription("Chunked stream fetch duration in milliseconds"),
	)
)

// Fetch issues one streaming GET against uri when iteration starts and yields
// every frame of the response body parsed by parse, in arrival order.
//
// A frame that fails to parse yields one error wrapping ErrDecode and the
// iteration continues with the next frame. Transport failures and a corrupt
// length prefix end the sequence after a single error item. Stopping the
// iteration early closes the response body.
func Fetch[T any](ctx context.Context, client *http.Client, uri string, parse func([]byte) (T, error)) iter.Seq2[T, error] {
	if client == nil {
		client = http.DefaultClient
	}

	return func(yield func(T, error) bool) {
		var zero T

		ctx, span := tracer.Start(ctx, "ndgr.fetch", trace.WithAttributes(attribute.String("http.url", uri)))
		defer span.End()

		start := time.Now()
		defer func() {
			fetchDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		}()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(zero, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			fail(fmt.Errorf("%w: create request: %w", ErrTransport, err))
			return
		}

		resp, err := client.Do(req)
		if err != nil {
			fail(fmt.Errorf("%w: send request: %w", ErrTransport, err))
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			fail(fmt.Errorf("%w: status=%d body=%s", ErrTransport, resp.StatusCode, string(limited)))
			return
		}

		reader := stream.NewReader()
		buf := make([]byte, readChunkSize)
		var frames int64

		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				reader.Push(buf[:n])

				for {
					frame, err := reader.Next()
					if errors.Is(err, stream.ErrNeedMoreData) {
						break
					}
					if err != nil {
						decodeErrorCounter.Add(ctx, 1)
						fail(fmt.Errorf("%w: %w", ErrDecode, err))
						return
					}

					item, err := parse(frame)
					if err != nil {
						decodeErrorCounter.Add(ctx, 1)
						if !yield(zero, fmt.Errorf("%w: %w", ErrDecode, err)) {
							return
						}
						continue
					}

					frames++
					frameCounter.Add(ctx, 1)
					if !yield(item, nil) {
						return
					}
				}
			}

			if readErr == io.EOF {
				span.SetAttributes(attribute.Int64("ndgr.frames", frames))
				if left := reader.Buffered(); left > 0 {
					decodeErrorCounter.Add(ctx, 1)
					fail(fmt.Errorf("%w: stream ended inside a frame (%d bytes buffered)", ErrDecode, left))
				}
				return
			}
			if readErr != nil {
				fail(fmt.Errorf("%w: read body: %w", ErrTransport, readErr))
				return
			}
		}
	}
}
