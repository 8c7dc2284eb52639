package telegram

import (
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"webhook-chatter/internal/dispatch"
	"webhook-chatter/internal/storage"
)

// ErrInvalidMessage marks an update without a message or without a chat id.
var ErrInvalidMessage = errors.New("invalid message format")

// NewEvent normalizes a webhook update into a dispatch event.
func NewEvent(update tgbotapi.Update) (dispatch.Event, error) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID == 0 {
		return dispatch.Event{}, ErrInvalidMessage
	}

	text, rawEntities := msg.Text, msg.Entities
	if text == "" && msg.Caption != "" {
		text, rawEntities = msg.Caption, msg.CaptionEntities
	}

	ev := dispatch.Event{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      text,
		Sender:    senderOf(msg.From),
		Entities:  entitiesOf(rawEntities),
		Date:      time.Unix(int64(msg.Date), 0).UTC(),
		HasVideo:  msg.Video != nil || msg.VideoNote != nil,
	}
	if len(msg.Photo) > 0 {
		ev.PhotoFileID = largestPhoto(msg.Photo).FileID
	}

	switch cmd, args, ok := commandOf(text, rawEntities); {
	case ok:
		ev.Intent = dispatch.Intent{Kind: dispatch.KindCommand, Command: cmd, Args: args}
	case ev.PhotoFileID != "":
		ev.Intent = dispatch.Intent{Kind: dispatch.KindPhoto}
	case ev.HasVideo:
		ev.Intent = dispatch.Intent{Kind: dispatch.KindVideo}
	default:
		ev.Intent = dispatch.Intent{Kind: dispatch.KindText}
	}
	return ev, nil
}

func senderOf(u *tgbotapi.User) storage.Sender {
	if u == nil {
		return storage.Sender{}
	}
	return storage.Sender{
		ID:           u.ID,
		IsBot:        u.IsBot,
		Username:     u.UserName,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
	}
}

func entitiesOf(in []tgbotapi.MessageEntity) []storage.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]storage.Entity, 0, len(in))
	for _, e := range in {
		out = append(out, storage.Entity{Type: e.Type, Offset: e.Offset, Length: e.Length, URL: e.URL})
	}
	return out
}

// commandOf reads a leading bot_command entity. Command names are ASCII, so the
// UTF-16 length of the entity equals its byte length.
func commandOf(text string, entities []tgbotapi.MessageEntity) (string, string, bool) {
	if len(entities) == 0 {
		return "", "", false
	}
	e := entities[0]
	if e.Type != "bot_command" || e.Offset != 0 || e.Length < 2 || e.Length > len(text) {
		return "", "", false
	}
	cmd := text[1:e.Length]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(text[e.Length:]), true
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}
