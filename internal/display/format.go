package display

import (
	"fmt"
	"strings"

	"NDGRClient/internal/payload"
)

var notificationLabels = map[payload.NotificationKind]string{
	payload.NotificationIchiba:          "ichiba",
	payload.NotificationQuote:           "quote",
	payload.NotificationEmotion:         "emotion",
	payload.NotificationCruise:          "cruise",
	payload.NotificationProgramExtended: "extended",
	payload.NotificationRankingIn:       "ranking",
	payload.NotificationRankingUpdated:  "ranking",
	payload.NotificationVisited:         "visited",
}

// Format renders one message as a single display line. It returns false for
// messages that carry nothing to show, such as state updates and signals.
func Format(msg *payload.ChunkedMessage) (string, bool) {
	if msg == nil || msg.Message == nil {
		return "", false
	}

	m := msg.Message
	switch {
	case m.Chat != nil:
		return formatChat(m.Chat), true
	case m.OverflowedChat != nil:
		return formatChat(m.OverflowedChat), true
	case m.SimpleNotification != nil:
		n := m.SimpleNotification
		label, ok := notificationLabels[n.Kind]
		if !ok {
			label = "info"
		}
		return fmt.Sprintf("[%s] %s", label, clean(n.Text)), true
	case m.Gift != nil:
		g := m.Gift
		name := g.AdvertiserName
		if name == "" {
			name = "anonymous"
		}
		line := fmt.Sprintf("[gift] %s: %s (%dpt)", clean(name), clean(g.ItemName), g.Point)
		if g.Message != "" {
			line += " " + clean(g.Message)
		}
		return line, true
	}
	return "", false
}

func formatChat(c *payload.Chat) string {
	text := clean(c.Content)
	if c.Name != "" {
		return clean(c.Name) + ": " + text
	}
	return text
}

// clean collapses runs of whitespace, newlines included, into single spaces.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
