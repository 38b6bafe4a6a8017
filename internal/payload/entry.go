// Package payload decodes the protobuf payloads carried by NDGR frames: the
// entries of the entry endpoint and the chat messages of segment streams.
//
// Decoding works on the wire format directly and skips every field it does
// not know, so new server-side fields never break the client.
package payload

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Entry is one decoded ChunkedEntry. The concrete type is one of *Segment,
// *Previous, *Backward, *Next or *UnknownEntry.
type Entry interface {
	isEntry()
}

// Segment points at a stream of chat messages covering [From, Until).
type Segment struct {
	From  Timestamp
	Until Timestamp
	URI   string
}

// Previous points at older messages of the same shape as Segment.
type Previous struct {
	From  Timestamp
	Until Timestamp
	URI   string
}

// Backward points at the packed backlog and a state snapshot.
type Backward struct {
	Until       Timestamp
	SegmentURI  string
	SnapshotURI string
}

// Next tells the client to resume polling from At (unix seconds).
type Next struct {
	At int64
}

// UnknownEntry is an entry whose oneof arm is empty or not recognised.
type UnknownEntry struct {
	Field protowire.Number
}

func (*Segment) isEntry()      {}
func (*Previous) isEntry()     {}
func (*Backward) isEntry()     {}
func (*Next) isEntry()         {}
func (*UnknownEntry) isEntry() {}

// DecodeEntry parses one ChunkedEntry frame.
func DecodeEntry(b []byte) (Entry, error) {
	var entry Entry = &UnknownEntry{}

	err := eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var err error
		switch num {
		case 1:
			var s *Segment
			s, err = decodeSegment(typ, value)
			if err == nil {
				entry = s
			}
		case 2:
			var bw *Backward
			bw, err = decodeBackward(typ, value)
			if err == nil {
				entry = bw
			}
		case 3:
			var s *Segment
			s, err = decodeSegment(typ, value)
			if err == nil {
				entry = &Previous{From: s.From, Until: s.Until, URI: s.URI}
			}
		case 4:
			var n *Next
			n, err = decodeNext(typ, value)
			if err == nil {
				entry = n
			}
		default:
			if u, ok := entry.(*UnknownEntry); ok {
				u.Field = num
			}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("decode chunked entry: %w", err)
	}
	return entry, nil
}

func decodeSegment(typ protowire.Type, value []byte) (*Segment, error) {
	b, err := bytesValue(typ, value)
	if err != nil {
		return nil, err
	}

	s := &Segment{}
	err = eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var err error
		switch num {
		case 1:
			s.From, err = timestampValue(typ, value)
		case 2:
			s.Until, err = timestampValue(typ, value)
		case 3:
			s.URI, err = stringValue(typ, value)
		}
		return err
	})
	return s, err
}

func decodeBackward(typ protowire.Type, value []byte) (*Backward, error) {
	b, err := bytesValue(typ, value)
	if err != nil {
		return nil, err
	}

	bw := &Backward{}
	err = eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var err error
		switch num {
		case 1:
			bw.Until, err = timestampValue(typ, value)
		case 2:
			bw.SegmentURI, err = decodeURIHolder(typ, value)
		case 3:
			bw.SnapshotURI, err = decodeURIHolder(typ, value)
		}
		return err
	})
	return bw, err
}

func decodeNext(typ protowire.Type, value []byte) (*Next, error) {
	b, err := bytesValue(typ, value)
	if err != nil {
		return nil, err
	}

	n := &Next{}
	err = eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == 1 {
			v, err := varintValue(typ, value)
			n.At = int64(v)
			return err
		}
		return nil
	})
	return n, err
}
