// Package payloadtest encodes NDGR payloads for tests and fake servers.
package payloadtest

import (
	"google.golang.org/protobuf/encoding/protowire"

	"NDGRClient/internal/payload"
	"NDGRClient/internal/stream"
)

func appendMessageField(b []byte, num protowire.Number, inner []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func timestamp(ts payload.Timestamp) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(ts.Seconds))
	return appendVarintField(b, 2, uint64(ts.Nanos))
}

func segment(from, until payload.Timestamp, uri string) []byte {
	var b []byte
	b = appendMessageField(b, 1, timestamp(from))
	b = appendMessageField(b, 2, timestamp(until))
	return appendStringField(b, 3, uri)
}

// Entry encodes e as a ChunkedEntry.
func Entry(e payload.Entry) []byte {
	var b []byte
	switch e := e.(type) {
	case *payload.Segment:
		b = appendMessageField(b, 1, segment(e.From, e.Until, e.URI))
	case *payload.Previous:
		b = appendMessageField(b, 3, segment(e.From, e.Until, e.URI))
	case *payload.Backward:
		var inner []byte
		inner = appendMessageField(inner, 1, timestamp(e.Until))
		inner = appendMessageField(inner, 2, appendStringField(nil, 1, e.SegmentURI))
		inner = appendMessageField(inner, 3, appendStringField(nil, 1, e.SnapshotURI))
		b = appendMessageField(b, 2, inner)
	case *payload.Next:
		b = appendMessageField(b, 4, appendVarintField(nil, 1, uint64(e.At)))
	}
	return b
}

func chat(c *payload.Chat) []byte {
	var b []byte
	b = appendStringField(b, 1, c.Content)
	b = appendStringField(b, 2, c.Name)
	b = appendVarintField(b, 3, uint64(c.Vpos))
	b = appendVarintField(b, 4, uint64(c.AccountStatus))
	b = appendVarintField(b, 5, uint64(c.RawUserID))
	b = appendStringField(b, 6, c.HashedUserID)
	return appendVarintField(b, 8, uint64(c.No))
}

// Message encodes m as a ChunkedMessage.
func Message(m *payload.ChunkedMessage) []byte {
	var b []byte
	if m.Meta != nil {
		var meta []byte
		meta = appendStringField(meta, 1, m.Meta.ID)
		meta = appendMessageField(meta, 2, timestamp(m.Meta.At))
		b = appendMessageField(b, 1, meta)
	}
	if m.Message != nil {
		var inner []byte
		switch {
		case m.Message.Chat != nil:
			inner = appendMessageField(inner, 1, chat(m.Message.Chat))
		case m.Message.SimpleNotification != nil:
			n := m.Message.SimpleNotification
			inner = appendMessageField(inner, 7, appendStringField(nil, protowire.Number(n.Kind), n.Text))
		case m.Message.Gift != nil:
			g := m.Message.Gift
			var gb []byte
			gb = appendStringField(gb, 1, g.ItemID)
			gb = appendVarintField(gb, 2, uint64(g.AdvertiserUserID))
			gb = appendStringField(gb, 3, g.AdvertiserName)
			gb = appendVarintField(gb, 4, uint64(g.Point))
			gb = appendStringField(gb, 5, g.Message)
			gb = appendStringField(gb, 6, g.ItemName)
			gb = appendVarintField(gb, 7, uint64(g.ContributionRank))
			inner = appendMessageField(inner, 8, gb)
		case m.Message.OverflowedChat != nil:
			inner = appendMessageField(inner, 20, chat(m.Message.OverflowedChat))
		}
		b = appendMessageField(b, 2, inner)
	}
	if m.State != nil {
		b = appendMessageField(b, 4, m.State)
	}
	if m.Signal != nil {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.Signal))
	}
	return b
}

// ChatMessage builds a ChunkedMessage carrying a single chat comment.
func ChatMessage(id, content string) *payload.ChunkedMessage {
	return &payload.ChunkedMessage{
		Meta:    &payload.Meta{ID: id},
		Message: &payload.NicoliveMessage{Chat: &payload.Chat{Content: content}},
	}
}

// EntryStream frames each entry for an entry endpoint response body.
func EntryStream(entries ...payload.Entry) []byte {
	var out []byte
	for _, e := range entries {
		out = stream.AppendFrame(out, Entry(e))
	}
	return out
}

// MessageStream frames each message for a segment response body.
func MessageStream(msgs ...*payload.ChunkedMessage) []byte {
	var out []byte
	for _, m := range msgs {
		out = stream.AppendFrame(out, Message(m))
	}
	return out
}
