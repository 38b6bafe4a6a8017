package control

import (
	"encoding/json"
	"fmt"
)

// Outbound message types.
const (
	TypeStartWatching = "startWatching"
	TypeKeepSeat      = "keepSeat"
	TypePong          = "pong"
	TypePostComment   = "postComment"
)

// Inbound message types.
const (
	TypeMessageServer = "messageServer"
	TypeSeat          = "seat"
	TypePing          = "ping"
	TypeReconnect     = "reconnect"
	TypeServerTime    = "serverTime"
	TypeStream        = "stream"
	TypeSchedule      = "schedule"
	TypeStatistics    = "statistics"
)

// outbound is the envelope of every message the client sends.
type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type startWatchingData struct {
	Reconnect bool `json:"reconnect"`
}

type postCommentData struct {
	Text string `json:"text"`
}

func startWatching() outbound {
	return outbound{Type: TypeStartWatching, Data: startWatchingData{Reconnect: false}}
}

func keepSeat() outbound {
	return outbound{Type: TypeKeepSeat}
}

func pong() outbound {
	return outbound{Type: TypePong}
}

func postComment(text string) outbound {
	return outbound{Type: TypePostComment, Data: postCommentData{Text: text}}
}

// Inbound is one decoded server message. The concrete type is one of
// MessageServer, Seat, Ping, Reconnect, ServerTime, Stream, Schedule,
// Statistics or Unknown.
type Inbound interface {
	inboundType() string
}

// MessageServer carries the entry endpoint of the chat stream.
type MessageServer struct {
	ViewURI      string `json:"viewUri"`
	VposBaseTime string `json:"vposBaseTime"`
	HashedUserID string `json:"hashedUserId"`
}

// Seat carries the keep-alive interval in seconds.
type Seat struct {
	KeepIntervalSec int `json:"keepIntervalSec"`
}

// Ping must be answered with exactly one pong.
type Ping struct{}

// Reconnect asks the client to reconnect with a fresh token after a wait.
type Reconnect struct {
	AudienceToken string `json:"audienceToken"`
	WaitTimeSec   int    `json:"waitTimeSec"`
}

// ServerTime reports the server clock.
type ServerTime struct {
	CurrentMs string `json:"currentMs"`
}

// Stream describes the media stream. Only the raw payload is kept.
type Stream struct {
	Raw json.RawMessage
}

// Schedule reports the program begin and end times.
type Schedule struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
}

// Statistics reports audience counters.
type Statistics struct {
	Viewers    int64 `json:"viewers"`
	Comments   int64 `json:"comments"`
	AdPoints   int64 `json:"adPoints"`
	GiftPoints int64 `json:"giftPoints"`
}

// Unknown is any message whose type the client does not handle.
type Unknown struct {
	Type string
	Data json.RawMessage
}

func (MessageServer) inboundType() string { return TypeMessageServer }
func (Seat) inboundType() string          { return TypeSeat }
func (Ping) inboundType() string          { return TypePing }
func (Reconnect) inboundType() string     { return TypeReconnect }
func (ServerTime) inboundType() string    { return TypeServerTime }
func (Stream) inboundType() string        { return TypeStream }
func (Schedule) inboundType() string      { return TypeSchedule }
func (Statistics) inboundType() string    { return TypeStatistics }
func (u Unknown) inboundType() string     { return u.Type }

type inboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeInbound parses one text frame from the control socket.
func DecodeInbound(b []byte) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode control message: %w", err)
	}

	var (
		msg Inbound
		err error
	)
	switch env.Type {
	case TypeMessageServer:
		var m MessageServer
		err = decodeData(env.Data, &m)
		msg = m
	case TypeSeat:
		var m Seat
		err = decodeData(env.Data, &m)
		msg = m
	case TypePing:
		msg = Ping{}
	case TypeReconnect:
		var m Reconnect
		err = decodeData(env.Data, &m)
		msg = m
	case TypeServerTime:
		var m ServerTime
		err = decodeData(env.Data, &m)
		msg = m
	case TypeStream:
		msg = Stream{Raw: env.Data}
	case TypeSchedule:
		var m Schedule
		err = decodeData(env.Data, &m)
		msg = m
	case TypeStatistics:
		var m Statistics
		err = decodeData(env.Data, &m)
		msg = m
	default:
		msg = Unknown{Type: env.Type, Data: env.Data}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s data: %w", env.Type, err)
	}
	return msg, nil
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
