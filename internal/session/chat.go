package session

import (
	"strings"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/messages"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/protocol"
)

const defaultChatColor = "white"

// translateChat converts an upstream chat component into downstream parts.
// A component without an extra array produces no message, even when its
// own text is set.
func translateChat(raw string) (messages.ChatMessage, bool) {
	c, err := protocol.ParseChat(raw)
	if err != nil {
		return messages.ChatMessage{}, false
	}
	if !c.HasExtra() {
		return messages.ChatMessage{}, false
	}

	parts := make([]messages.ChatPart, 0, len(c.Extra)+1)
	if c.Text != "" {
		color := c.Color
		if color == "" {
			color = defaultChatColor
		}
		parts = append(parts, messages.ChatPart{Text: c.Text, Color: color})
	}

	for _, e := range c.Extra {
		parts = append(parts, messages.ChatPart{Text: e.Text, Color: chatColor(e)})
	}

	return messages.ChatMessage{Message: parts}, true
}

func chatColor(e protocol.ChatComponent) string {
	switch {
	case e.Literal, e.Color == "":
		return defaultChatColor
	case e.Color == "gray":
		return "#eeeeee"
	default:
		return strings.ReplaceAll(e.Color, "_", "")
	}
}
