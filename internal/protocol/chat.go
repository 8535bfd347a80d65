package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChatComponent is a JSON text component. A bare JSON string decodes into
// a component with Literal set.
type ChatComponent struct {
	Text      string          `json:"text"`
	Color     string          `json:"color,omitempty"`
	Translate string          `json:"translate,omitempty"`
	With      []ChatComponent `json:"with,omitempty"`
	Extra     []ChatComponent `json:"extra,omitempty"`

	// Literal is true when the component was a plain string.
	Literal bool `json:"-"`
}

type chatComponentFields ChatComponent

// UnmarshalJSON accepts either an object or a string.
func (c *ChatComponent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ChatComponent{Text: s, Literal: true}
		return nil
	}

	var fields chatComponentFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*c = ChatComponent(fields)
	return nil
}

// HasExtra reports whether the component carried an extra array, even an
// empty one.
func (c *ChatComponent) HasExtra() bool {
	return c.Extra != nil
}

// ParseChat decodes a chat JSON string.
func ParseChat(raw string) (*ChatComponent, error) {
	var c ChatComponent
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("failed to parse chat component: %w", err)
	}
	return &c, nil
}

// PlainText flattens the component tree into unformatted text.
// Translation keys are kept verbatim with their arguments appended.
func (c *ChatComponent) PlainText() string {
	var sb strings.Builder
	c.writePlain(&sb)
	return sb.String()
}

func (c *ChatComponent) writePlain(sb *strings.Builder) {
	sb.WriteString(c.Text)
	if c.Translate != "" {
		sb.WriteString(c.Translate)
		for i := range c.With {
			sb.WriteByte(' ')
			c.With[i].writePlain(sb)
		}
	}
	for i := range c.Extra {
		c.Extra[i].writePlain(sb)
	}
}

// ReasonText returns the readable text of a disconnect reason, falling back
// to the raw payload when it is not valid chat JSON.
func ReasonText(raw string) string {
	c, err := ParseChat(raw)
	if err != nil {
		return raw
	}
	if text := c.PlainText(); text != "" {
		return text
	}
	return raw
}
