// Package history turns stored chat turns into the flat text context fed to the model.
package history

import (
	"strings"

	"webhook-chatter/internal/storage"
)

const (
	SpeakerHuman     = "Human"
	SpeakerAssistant = "Assistant"
)

// Turn is one speaker-labelled line of a formatted context.
type Turn struct {
	Speaker string
	Text    string
}

// Format renders msgs (oldest first) as one "Speaker: text" line per message.
func Format(msgs []storage.ChatMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		speaker := SpeakerHuman
		if m.From.IsBot {
			speaker = SpeakerAssistant
		}
		lines = append(lines, speaker+": "+strings.TrimSpace(m.Text))
	}
	return strings.Join(lines, "\n")
}

// Parse splits a formatted context back into turns. A line without a speaker prefix
// continues the text of the previous turn.
func Parse(s string) []Turn {
	if s == "" {
		return nil
	}
	var out []Turn
	for _, line := range strings.Split(s, "\n") {
		if speaker, text, ok := splitSpeaker(line); ok {
			out = append(out, Turn{Speaker: speaker, Text: text})
			continue
		}
		if len(out) == 0 {
			out = append(out, Turn{Speaker: SpeakerHuman, Text: line})
			continue
		}
		out[len(out)-1].Text += "\n" + line
	}
	return out
}

func splitSpeaker(line string) (string, string, bool) {
	for _, sp := range []string{SpeakerHuman, SpeakerAssistant} {
		if rest, ok := strings.CutPrefix(line, sp+": "); ok {
			return sp, rest, true
		}
		if line == sp+":" {
			return sp, "", true
		}
	}
	return "", "", false
}
