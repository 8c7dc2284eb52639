package dispatch

import (
	"time"

	"webhook-chatter/internal/storage"
)

// Kind is the intent of an inbound message, resolved once when the event is decoded.
type Kind int

const (
	KindText Kind = iota
	KindCommand
	KindPhoto
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	default:
		return "text"
	}
}

// Intent is the routing variant of an event. Command and Args are set for
// KindCommand only; Command has no leading slash and no @botname suffix.
type Intent struct {
	Kind    Kind
	Command string
	Args    string
}

// Event is a normalized inbound message.
type Event struct {
	ChatID    int64
	MessageID int
	// Text is the message text, or the caption for media messages.
	Text     string
	Sender   storage.Sender
	Entities []storage.Entity
	Date     time.Time
	Intent   Intent

	// PhotoFileID is the largest available size of an attached photo.
	PhotoFileID string
	HasVideo    bool
}
