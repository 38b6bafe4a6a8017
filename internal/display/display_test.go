package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NDGRClient/internal/payload"
)

func TestRuneWidth(t *testing.T) {
	tests := []struct {
		r    rune
		want int
	}{
		{'a', 1},
		{'あ', 2},
		{'漢', 2},
		{'Ａ', 2}, // fullwidth
		{'ｱ', 1}, // halfwidth katakana
		{'○', 2}, // ambiguous
		{'\t', 0},
		{'\u0301', 0}, // combining acute
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RuneWidth(tt.r), "rune %q", tt.r)
	}
	assert.Equal(t, 7, StringWidth("abcあい"))
}

func TestCommentBufferWrapsByDisplayWidth(t *testing.T) {
	b := NewCommentBuffer(6, 10)
	b.Push("abcdefgh")
	b.Push("あいうえお")
	b.Push("abあいc")

	assert.Equal(t, []string{
		"abcdef", "gh",
		"あいう", "えお",
		"abあい", "c",
	}, b.Lines())
}

func TestCommentBufferWideRuneNeverSplitsAcrossOddWidth(t *testing.T) {
	b := NewCommentBuffer(3, 10)
	b.Push("aあい")
	assert.Equal(t, []string{"aあ", "い"}, b.Lines())
	for _, line := range b.Lines() {
		assert.LessOrEqual(t, StringWidth(line), 3)
	}
}

func TestCommentBufferRuneWiderThanLine(t *testing.T) {
	b := NewCommentBuffer(1, 10)
	b.Push("あa")
	assert.Equal(t, []string{"あ", "a"}, b.Lines())
}

func TestCommentBufferDropsOldest(t *testing.T) {
	b := NewCommentBuffer(80, 3)
	for _, c := range []string{"1", "2", "3", "4", "5"} {
		b.Push(c)
	}
	assert.Equal(t, []string{"3", "4", "5"}, b.Lines())

	lines := b.Lines()
	lines[0] = "changed"
	assert.Equal(t, "3", b.Lines()[0])
}

func TestCommentBufferEmptyAndNewlines(t *testing.T) {
	b := NewCommentBuffer(80, 5)
	b.Push("")
	assert.Empty(t, b.Lines())

	b.Push("one\ntwo")
	assert.Equal(t, []string{"one", "two"}, b.Lines())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		msg  *payload.ChunkedMessage
		want string
		ok   bool
	}{
		{"chat", &payload.ChunkedMessage{Message: &payload.NicoliveMessage{
			Chat: &payload.Chat{Content: "こんにちは", Name: "viewer"},
		}}, "viewer: こんにちは", true},
		{"anonymous chat with newline", &payload.ChunkedMessage{Message: &payload.NicoliveMessage{
			Chat: &payload.Chat{Content: "line1\nline2"},
		}}, "line1 line2", true},
		{"overflowed", &payload.ChunkedMessage{Message: &payload.NicoliveMessage{
			OverflowedChat: &payload.Chat{Content: "late"},
		}}, "late", true},
		{"notification", &payload.ChunkedMessage{Message: &payload.NicoliveMessage{
			SimpleNotification: &payload.SimpleNotification{Kind: payload.NotificationEmotion, Text: "8888"},
		}}, "[emotion] 8888", true},
		{"gift", &payload.ChunkedMessage{Message: &payload.NicoliveMessage{
			Gift: &payload.Gift{AdvertiserName: "fan", ItemName: "flower", Point: 300, Message: "gg"},
		}}, "[gift] fan: flower (300pt) gg", true},
		{"state", &payload.ChunkedMessage{State: []byte{1}}, "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Format(tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRendererRedrawsBuffer(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, NewCommentBuffer(80, 2), "title")

	require.NoError(t, r.Add("first"))
	require.NoError(t, r.Add("second"))
	require.NoError(t, r.Add("third"))

	frames := strings.Split(out.String(), clearScreen+cursorHome)
	require.Len(t, frames, 4)
	assert.Equal(t, "title\nsecond\nthird\n", frames[3])
}
