// Package stream extracts length-delimited frames from a chunked byte stream.
//
// Every frame on the wire is a base-128 varint (little-endian 7-bit groups,
// high bit set on all but the last byte) giving the payload length, followed
// by exactly that many payload bytes. Chunk boundaries carry no meaning: a
// length prefix or a payload may be split across any number of pushes.
package stream

import (
	"encoding/binary"
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single frame payload (16MB).
const MaxFrameSize = 16 * 1024 * 1024

// MaxPrefixLen is the widest length prefix accepted (uint64 varint).
const MaxPrefixLen = binary.MaxVarintLen64

var (
	// ErrNeedMoreData means the buffer does not yet hold a complete frame.
	ErrNeedMoreData = errors.New("stream: need more data")
	// ErrLengthOverflow means the length prefix did not terminate within MaxPrefixLen bytes.
	ErrLengthOverflow = errors.New("stream: length prefix overflow")
	// ErrFrameTooLarge means the decoded length exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("stream: frame exceeds size limit")
)

// Reader accumulates pushed bytes and hands out complete frames in arrival order.
// A Reader is not safe for concurrent use.
type Reader struct {
	buf []byte
	err error
}

// NewReader returns an empty reader.
func NewReader() *Reader {
	return &Reader{}
}

// Push appends raw bytes to the internal buffer. Bytes pushed after the reader
// failed are discarded.
func (r *Reader) Push(chunk []byte) {
	if r.err != nil || len(chunk) == 0 {
		return
	}
	r.buf = append(r.buf, chunk...)
}

// Buffered returns the number of bytes held but not yet returned as frames.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// Next returns the next complete frame payload. The returned slice is owned by
// the caller.
//
// ErrNeedMoreData leaves the buffer untouched. ErrLengthOverflow and
// ErrFrameTooLarge are sticky: the frame boundary is lost, so the reader
// reports the same error from then on.
func (r *Reader) Next() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}

	length, prefix, err := r.readLength()
	if err != nil {
		if err != ErrNeedMoreData {
			r.fail(err)
		}
		return nil, err
	}

	if uint64(len(r.buf)-prefix) < length {
		return nil, ErrNeedMoreData
	}

	end := prefix + int(length)
	frame := make([]byte, int(length))
	copy(frame, r.buf[prefix:end])

	// Shift the remainder down so the backing array is reused across frames.
	n := copy(r.buf, r.buf[end:])
	r.buf = r.buf[:n]

	return frame, nil
}

func (r *Reader) readLength() (uint64, int, error) {
	if len(r.buf) == 0 {
		return 0, 0, ErrNeedMoreData
	}

	v, n := protowire.ConsumeVarint(r.buf)
	if n < 0 {
		// protowire only reports overflow once a tenth byte is present, so any
		// failure on a shorter buffer is a truncated prefix.
		if len(r.buf) < MaxPrefixLen {
			return 0, 0, ErrNeedMoreData
		}
		return 0, 0, ErrLengthOverflow
	}
	if v > MaxFrameSize {
		return 0, 0, ErrFrameTooLarge
	}
	return v, n, nil
}

func (r *Reader) fail(err error) {
	r.err = err
	r.buf = nil
}

// AppendFrame appends payload to dst with its varint length prefix.
func AppendFrame(dst, payload []byte) []byte {
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	return append(dst, payload...)
}
