// Package chat delivers bot messages to Slack.
package chat

import (
	"strings"

	"github.com/slack-go/slack"
)

// Attachment colors understood by Slack.
const (
	ColorGood    = "good"
	ColorWarning = "warning"
	ColorDanger  = "danger"
)

// Field is one titled block inside an attachment.
type Field struct {
	Title string
	Value string
	Short bool
}

// Attachment is a colored group of fields under a message.
type Attachment struct {
	Color  string
	Text   string
	Fields []Field
}

// Message is either plain text or text with attachments.
type Message struct {
	Text        string
	Attachments []Attachment
}

// Text builds a plain text message.
func Text(s string) Message {
	return Message{Text: s}
}

// Empty reports whether the message carries nothing to send.
func (m Message) Empty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Attachments) == 0
}

func (m Message) options() []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(m.Text, false)}
	if len(m.Attachments) == 0 {
		return opts
	}
	atts := make([]slack.Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		sa := slack.Attachment{Color: a.Color, Text: a.Text}
		for _, f := range a.Fields {
			sa.Fields = append(sa.Fields, slack.AttachmentField{Title: f.Title, Value: f.Value, Short: f.Short})
		}
		atts = append(atts, sa)
	}
	return append(opts, slack.MsgOptionAttachments(atts...))
}
