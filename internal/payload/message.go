package payload

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ChunkedMessage is one item of a segment stream. Exactly one of Message,
// State or Signal is set on well-formed input.
type ChunkedMessage struct {
	Meta    *Meta
	Message *NicoliveMessage
	// State is the raw NicoliveState payload; the client does not interpret it.
	State  []byte
	Signal *Signal
}

// Meta carries the message id and server timestamp.
type Meta struct {
	ID string
	At Timestamp
	// Origin is the raw NicoliveOrigin payload.
	Origin []byte
}

// Signal is an out-of-band stream marker.
type Signal int32

// SignalFlushed marks the end of the buffered backlog.
const SignalFlushed Signal = 0

// AccountStatus distinguishes standard and premium viewers.
type AccountStatus int32

const (
	AccountStandard AccountStatus = 0
	AccountPremium  AccountStatus = 1
)

// NicoliveMessage holds the decoded arm of the message oneof. Other is the
// field number of an arm this package does not decode.
type NicoliveMessage struct {
	Chat               *Chat
	OverflowedChat     *Chat
	SimpleNotification *SimpleNotification
	Gift               *Gift
	Other              protowire.Number
}

// Chat is a viewer comment.
type Chat struct {
	Content       string
	Name          string
	Vpos          int32
	AccountStatus AccountStatus
	RawUserID     int64
	HashedUserID  string
	No            int32
}

// NotificationKind is the oneof arm of a SimpleNotification.
type NotificationKind int

const (
	NotificationUnknown NotificationKind = iota
	NotificationIchiba
	NotificationQuote
	NotificationEmotion
	NotificationCruise
	NotificationProgramExtended
	NotificationRankingIn
	NotificationRankingUpdated
	NotificationVisited
)

// SimpleNotification is a system line shown in the comment pane.
type SimpleNotification struct {
	Kind NotificationKind
	Text string
}

// Gift is a gifting event.
type Gift struct {
	ItemID           string
	AdvertiserUserID int64
	AdvertiserName   string
	Point            int64
	Message          string
	ItemName         string
	ContributionRank int64
}

// DecodeMessage parses one ChunkedMessage frame.
func DecodeMessage(b []byte) (*ChunkedMessage, error) {
	msg := &ChunkedMessage{}

	err := eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var err error
		switch num {
		case 1:
			msg.Meta, err = decodeMeta(typ, value)
		case 2:
			msg.Message, err = decodeNicoliveMessage(typ, value)
		case 4:
			var raw []byte
			raw, err = bytesValue(typ, value)
			if err == nil {
				msg.State = append([]byte{}, raw...)
			}
		case 5:
			var v uint64
			v, err = varintValue(typ, value)
			if err == nil {
				sig := Signal(v)
				msg.Signal = &sig
			}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("decode chunked message: %w", err)
	}
	return msg, nil
}

func decodeMeta(typ protowire.Type, value []byte) (*Meta, error) {
	b, err := bytesValue(typ, value)
	if err != nil {
		return nil, err
	}

	meta := &Meta{}
	err = eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var err error
		switch num {
		case 1:
			meta.ID, err = stringValue(typ, value)
		case 2:
			meta.At, err = timestampValue(typ, value)
		case 3:
			var raw []byte
			raw, err = bytesValue(typ, value)
			if err == nil {
				meta.Origin = append([]byte{}, raw...)
			}
		}
		return err
	})
	return meta, err
}

func decodeNicoliveMessage(typ protowire.Type, value []byte) (*NicoliveMessage, error) {
	b, err := bytesValue(typ, value)
	if err != nil {
		return nil, err
	}

	m := &NicoliveMessage{}
	err = eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var err error
		switch num {
		case 1:
			m.Chat, err = decodeChat(typ, value)
		case 7:
			m.SimpleNotification, err = decodeSimpleNotification(typ, value)
		case 8:
			m.Gift, err = decodeGift(typ, value)
		case 20:
			m.OverflowedChat, err = decodeChat(typ, value)
		default:
			m.Other = num
		}
		return err
	})
	return m, err
}

func decodeChat(typ protowire.Type, value []byte) (*Chat, error) {
	b, err := bytesValue(typ, value)
	if err != nil {
		return nil, err
	}

	c := &Chat{}
	err = eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var err error
		var v uint64
		switch num {
		case 1:
			c.Content, err = stringValue(typ, value)
		case 2:
			c.Name, err = stringValue(typ, value)
		case 3:
			v, err = varintValue(typ, value)
			c.Vpos = int32(v)
		case 4:
			v, err = varintValue(typ, value)
			c.AccountStatus = AccountStatus(v)
		case 5:
			v, err = varintValue(typ, value)
			c.RawUserID = int64(v)
		case 6:
			c.HashedUserID, err = stringValue(typ, value)
		case 8:
			v, err = varintValue(typ, value)
			c.No = int32(v)
		}
		return err
	})
	return c, err
}

func decodeSimpleNotification(typ protowire.Type, value []byte) (*SimpleNotification, error) {
	b, err := bytesValue(typ, value)
	if err != nil {
		return nil, err
	}

	n := &SimpleNotification{}
	err = eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num < 1 || num > 8 {
			return nil
		}
		text, err := stringValue(typ, value)
		if err != nil {
			return err
		}
		n.Kind = NotificationKind(num)
		n.Text = text
		return nil
	})
	return n, err
}

func decodeGift(typ protowire.Type, value []byte) (*Gift, error) {
	b, err := bytesValue(typ, value)
	if err != nil {
		return nil, err
	}

	g := &Gift{}
	err = eachField(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		var err error
		var v uint64
		switch num {
		case 1:
			g.ItemID, err = stringValue(typ, value)
		case 2:
			v, err = varintValue(typ, value)
			g.AdvertiserUserID = int64(v)
		case 3:
			g.AdvertiserName, err = stringValue(typ, value)
		case 4:
			v, err = varintValue(typ, value)
			g.Point = int64(v)
		case 5:
			g.Message, err = stringValue(typ, value)
		case 6:
			g.ItemName, err = stringValue(typ, value)
		case 7:
			v, err = varintValue(typ, value)
			g.ContributionRank = int64(v)
		}
		return err
	})
	return g, err
}
