package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clientMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// serverConn is the server side of one control connection.
type serverConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (c *serverConn) send(typ string, data any) {
	c.t.Helper()
	msg := map[string]any{"type": typ}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

func (c *serverConn) recv(timeout time.Duration) (clientMsg, error) {
	var m clientMsg
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

func (c *serverConn) expect(typ string) clientMsg {
	c.t.Helper()
	m, err := c.recv(5 * time.Second)
	require.NoError(c.t, err)
	require.Equal(c.t, typ, m.Type)
	return m
}

// handshake consumes startWatching and answers with the given seat interval.
func (c *serverConn) handshake(keepIntervalSec int) {
	c.t.Helper()
	m := c.expect(TypeStartWatching)
	assert.JSONEq(c.t, `{"reconnect":false}`, string(m.Data))
	c.send(TypeSeat, map[string]any{"keepIntervalSec": keepIntervalSec})
	c.send(TypeMessageServer, map[string]any{"viewUri": "https://mpn.example/view/v4/abc"})
}

// newControlServer runs script on the server side of every connection and
// returns the ws:// URL.
func newControlServer(t *testing.T, script func(c *serverConn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(&serverConn{t: t, conn: conn})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func openTest(t *testing.T, url string, opts ...Option) (*Session, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return Open(ctx, url, opts...)
}

// waitClosed blocks the server script until the client hangs up.
func waitClosed(c *serverConn) {
	for {
		if _, err := c.recv(10 * time.Second); err != nil {
			return
		}
	}
}

func TestOpenHandshakeEitherOrder(t *testing.T) {
	tests := []struct {
		name      string
		seatFirst bool
	}{
		{"seat first", true},
		{"message server first", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := newControlServer(t, func(c *serverConn) {
				c.expect(TypeStartWatching)
				seat := map[string]any{"keepIntervalSec": 30}
				ms := map[string]any{"viewUri": "https://mpn.example/view/v4/xyz"}
				if tt.seatFirst {
					c.send(TypeSeat, seat)
					c.send(TypeServerTime, map[string]any{"currentMs": "2024-01-01T00:00:00Z"})
					c.send(TypeMessageServer, ms)
				} else {
					c.send(TypeMessageServer, ms)
					c.send(TypeSeat, seat)
				}
				waitClosed(c)
			})

			s, err := openTest(t, url)
			require.NoError(t, err)
			defer s.Close()

			assert.Equal(t, "https://mpn.example/view/v4/xyz", s.ViewURI())
			assert.Equal(t, 30*time.Second, s.KeepInterval())
		})
	}
}

func TestOpenAnswersPingDuringHandshake(t *testing.T) {
	gotPong := make(chan struct{})
	url := newControlServer(t, func(c *serverConn) {
		c.expect(TypeStartWatching)
		c.send(TypePing, nil)
		c.expect(TypePong)
		close(gotPong)
		c.send(TypeSeat, map[string]any{"keepIntervalSec": 30})
		c.send(TypeMessageServer, map[string]any{"viewUri": "https://mpn.example/view"})
		waitClosed(c)
	})

	s, err := openTest(t, url)
	require.NoError(t, err)
	defer s.Close()

	select {
	case <-gotPong:
	default:
		t.Fatal("handshake completed without answering the ping")
	}
}

func TestKeepSeatSentAfterInterval(t *testing.T) {
	type arrival struct {
		msg clientMsg
		at  time.Time
	}
	arrivals := make(chan arrival, 4)
	ready := make(chan time.Time, 1)

	url := newControlServer(t, func(c *serverConn) {
		c.handshake(1)
		ready <- time.Now()
		for {
			m, err := c.recv(5 * time.Second)
			if err != nil {
				return
			}
			arrivals <- arrival{m, time.Now()}
		}
	})

	s, err := openTest(t, url)
	require.NoError(t, err)
	defer s.Close()

	handshakeDone := <-ready
	select {
	case a := <-arrivals:
		assert.Equal(t, TypeKeepSeat, a.msg.Type)
		assert.GreaterOrEqual(t, a.at.Sub(handshakeDone), 900*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("no keepSeat within 5s")
	}
}

func TestPingAnsweredWithExactlyOnePong(t *testing.T) {
	result := make(chan []string, 1)
	url := newControlServer(t, func(c *serverConn) {
		c.handshake(60)
		c.send(TypePing, nil)

		var types []string
		for {
			m, err := c.recv(300 * time.Millisecond)
			if err != nil {
				break
			}
			types = append(types, m.Type)
		}
		result <- types
	})

	s, err := openTest(t, url)
	require.NoError(t, err)
	defer s.Close()

	select {
	case types := <-result:
		assert.Equal(t, []string{TypePong}, types)
	case <-time.After(5 * time.Second):
		t.Fatal("server script did not finish")
	}
}

func TestPostPreservesOrder(t *testing.T) {
	texts := make(chan string, 8)
	url := newControlServer(t, func(c *serverConn) {
		c.handshake(60)
		for {
			m, err := c.recv(5 * time.Second)
			if err != nil {
				return
			}
			if m.Type != TypePostComment {
				continue
			}
			var data struct {
				Text string `json:"text"`
			}
			if json.Unmarshal(m.Data, &data) == nil {
				texts <- data.Text
			}
		}
	})

	s, err := openTest(t, url)
	require.NoError(t, err)
	defer s.Close()

	want := []string{"a", "b", "c", "こんにちは"}
	for _, text := range want {
		require.NoError(t, s.Post(text))
	}

	var got []string
	for range want {
		select {
		case text := <-texts:
			got = append(got, text)
		case <-time.After(5 * time.Second):
			t.Fatalf("only received %v", got)
		}
	}
	assert.Equal(t, want, got)
}

func TestReconnectIsObservedNotActedUpon(t *testing.T) {
	observed := make(chan Reconnect, 1)
	url := newControlServer(t, func(c *serverConn) {
		c.handshake(60)
		c.send(TypeReconnect, map[string]any{"audienceToken": "tok", "waitTimeSec": 10})
		waitClosed(c)
	})

	s, err := openTest(t, url, WithReconnectHandler(func(r Reconnect) {
		observed <- r
	}))
	require.NoError(t, err)
	defer s.Close()

	select {
	case r := <-observed:
		assert.Equal(t, Reconnect{AudienceToken: "tok", WaitTimeSec: 10}, r)
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect handler was not called")
	}

	select {
	case <-s.Done():
		t.Fatal("session stopped after a reconnect request")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, "https://mpn.example/view/v4/abc", s.ViewURI())
}

func TestOpenSetupErrors(t *testing.T) {
	tests := []struct {
		name   string
		script func(c *serverConn)
	}{
		{"closed before seat", func(c *serverConn) {
			c.expect(TypeStartWatching)
			c.send(TypeMessageServer, map[string]any{"viewUri": "https://mpn.example/view"})
		}},
		{"zero keep interval", func(c *serverConn) {
			c.expect(TypeStartWatching)
			c.send(TypeSeat, map[string]any{"keepIntervalSec": 0})
			waitClosed(c)
		}},
		{"empty view uri", func(c *serverConn) {
			c.expect(TypeStartWatching)
			c.send(TypeMessageServer, map[string]any{"viewUri": ""})
			waitClosed(c)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := newControlServer(t, tt.script)
			_, err := openTest(t, url)
			require.Error(t, err)
			var setupErr *SetupError
			assert.True(t, errors.As(err, &setupErr), "got %T: %v", err, err)
		})
	}
}

func TestOpenHandshakeTimeout(t *testing.T) {
	url := newControlServer(t, func(c *serverConn) {
		c.expect(TypeStartWatching)
		waitClosed(c)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := Open(ctx, url)
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	defer srv.Close()

	_, err := openTest(t, url)
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "dial", setupErr.Op)
}

func TestCloseRejectsPost(t *testing.T) {
	url := newControlServer(t, func(c *serverConn) {
		c.handshake(60)
		waitClosed(c)
	})

	s, err := openTest(t, url)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Post("late"), ErrSessionClosed)
	assert.NoError(t, s.Err())
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestServerHangupStopsSession(t *testing.T) {
	url := newControlServer(t, func(c *serverConn) {
		c.handshake(60)
	})

	s, err := openTest(t, url)
	require.NoError(t, err)
	defer s.Close()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop after the server hung up")
	}
	assert.Error(t, s.Err())
	assert.ErrorIs(t, s.Post("x"), ErrSessionClosed)
}

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{"message server", `{"type":"messageServer","data":{"viewUri":"https://v","vposBaseTime":"t"}}`,
			MessageServer{ViewURI: "https://v", VposBaseTime: "t"}},
		{"seat", `{"type":"seat","data":{"keepIntervalSec":30}}`, Seat{KeepIntervalSec: 30}},
		{"ping", `{"type":"ping"}`, Ping{}},
		{"reconnect", `{"type":"reconnect","data":{"audienceToken":"a","waitTimeSec":3}}`,
			Reconnect{AudienceToken: "a", WaitTimeSec: 3}},
		{"statistics", `{"type":"statistics","data":{"viewers":10,"comments":2}}`,
			Statistics{Viewers: 10, Comments: 2}},
		{"schedule", `{"type":"schedule","data":{"begin":"b","end":"e"}}`, Schedule{Begin: "b", End: "e"}},
		{"unknown", `{"type":"akashic","data":{"x":1}}`,
			Unknown{Type: "akashic", Data: json.RawMessage(`{"x":1}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DecodeInbound([]byte(`not json`))
	assert.Error(t, err)
	_, err = DecodeInbound([]byte(`{"type":"seat","data":{"keepIntervalSec":"thirty"}}`))
	assert.Error(t, err)
}

func TestOutboxDiscardsOnClose(t *testing.T) {
	q := newOutbox()
	require.NoError(t, q.push("a"))
	require.NoError(t, q.push("b"))

	text, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", text)

	assert.Equal(t, 1, q.close())
	_, ok = q.pop()
	assert.False(t, ok)
	assert.ErrorIs(t, q.push("c"), ErrSessionClosed)
}
