// internal/pipeline/response-format/formatter.go
package responseformat

import (
	"fmt"
	"strings"

	commonerrors "github.com/mygads/govconnect-sub008/internal/common/errors"
	"github.com/mygads/govconnect-sub008/internal/models"
)

// Logger interface for dependency injection
type Logger interface {
	Warn(msg string, fields map[string]interface{})
}

// Reply is the channel-shaped outbound payload. Rich channels get Bubbles;
// plain channels get the collapsed Text. Both are always filled so callers
// can log one regardless of channel.
type Reply struct {
	Channel string               `json:"channel"`
	Bubbles []models.ReplyBubble `json:"bubbles"`
	Text    string               `json:"text"`
}

// Formatter shapes a generation result for a delivery channel. Format is a
// pure function of its inputs: formatting the same result twice yields the
// same reply, so delivery retries are safe.
type Formatter struct {
	logger Logger
}

func NewFormatter(logger Logger) *Formatter {
	return &Formatter{logger: logger}
}

// Format renders the generation result for the channel. A result with no
// response text cannot be rendered and fails with a format error.
func (f *Formatter) Format(result *models.GenerationResult, channel string) (*Reply, error) {
	if result == nil || strings.TrimSpace(result.Response) == "" {
		return nil, commonerrors.NewFormatError("generation result has no response text")
	}

	reply := &Reply{Channel: channel}
	switch channel {
	case models.ChannelWhatsApp:
		reply.Bubbles = whatsappBubbles(result)
	default:
		reply.Bubbles = []models.ReplyBubble{{Type: models.BubbleText, Text: collapse(result)}}
	}
	reply.Text = collapse(result)
	return reply, nil
}

// whatsappBubbles splits the result into separate bubbles: answer, guidance
// steps, then one contact card per contact.
func whatsappBubbles(result *models.GenerationResult) []models.ReplyBubble {
	bubbles := []models.ReplyBubble{{Type: models.BubbleText, Text: strings.TrimSpace(result.Response)}}

	if g := strings.TrimSpace(result.GuidanceText); g != "" {
		bubbles = append(bubbles, models.ReplyBubble{Type: models.BubbleText, Text: "*Langkah selanjutnya:*\n" + g})
	}

	for i := range result.Contacts {
		contact := result.Contacts[i]
		bubbles = append(bubbles, models.ReplyBubble{Type: models.BubbleContact, Contact: &contact})
	}
	return bubbles
}

// collapse renders everything as one plain-text message for channels
// without rich bubbles.
func collapse(result *models.GenerationResult) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(result.Response))

	if g := strings.TrimSpace(result.GuidanceText); g != "" {
		b.WriteString("\n\nLangkah selanjutnya:\n")
		b.WriteString(g)
	}

	for _, c := range result.Contacts {
		b.WriteString("\n\n")
		b.WriteString(contactLine(c))
	}
	return b.String()
}

func contactLine(c models.Contact) string {
	parts := []string{c.Name}
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	if c.Organization != "" {
		parts = append(parts, c.Organization)
	}
	line := strings.Join(parts, ", ")
	if c.Phone != "" {
		line = fmt.Sprintf("%s: %s", line, c.Phone)
	}
	return "Kontak: " + line
}
