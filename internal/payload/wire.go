package payload

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrWireType is returned when a known field arrives with an unexpected wire type.
var ErrWireType = errors.New("payload: unexpected wire type")

// Timestamp mirrors google.protobuf.Timestamp.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// Time converts the timestamp to a time.Time. The zero Timestamp maps to the zero time.
func (t Timestamp) Time() time.Time {
	if t.Seconds == 0 && t.Nanos == 0 {
		return time.Time{}
	}
	return time.Unix(t.Seconds, int64(t.Nanos))
}

type fieldFunc func(num protowire.Number, typ protowire.Type, value []byte) error

// eachField walks the top-level fields of a message. value holds the raw
// encoded field value (for bytes fields, including its length prefix).
func eachField(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		b = b[m:]
	}
	return nil
}

func bytesValue(typ protowire.Type, value []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, ErrWireType
	}
	v, n := protowire.ConsumeBytes(value)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

func stringValue(typ protowire.Type, value []byte) (string, error) {
	v, err := bytesValue(typ, value)
	return string(v), err
}

func varintValue(typ protowire.Type, value []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, ErrWireType
	}
	v, n := protowire.ConsumeVarint(value)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func decodeTimestamp(b []byte) (Timestamp, error) {
	var ts Timestamp
	err := eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch num {
		case 1:
			v, err := varintValue(typ, value)
			ts.Seconds = int64(v)
			return err
		case 2:
			v, err := varintValue(typ, value)
			ts.Nanos = int32(v)
			return err
		}
		return nil
	})
	return ts, err
}

func timestampValue(typ protowire.Type, value []byte) (Timestamp, error) {
	b, err := bytesValue(typ, value)
	if err != nil {
		return Timestamp{}, err
	}
	return decodeTimestamp(b)
}

// decodeURIHolder reads messages whose only field of interest is `string uri = 1`.
func decodeURIHolder(typ protowire.Type, value []byte) (string, error) {
	b, err := bytesValue(typ, value)
	if err != nil {
		return "", err
	}
	var uri string
	err = eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == 1 {
			var err error
			uri, err = stringValue(typ, value)
			return err
		}
		return nil
	})
	return uri, err
}
