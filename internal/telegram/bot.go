package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"webhook-chatter/internal/config"
	"webhook-chatter/internal/dispatch"
	"webhook-chatter/internal/history"
	"webhook-chatter/internal/metrics"
	"webhook-chatter/internal/storage"
)

const (
	BusyText     = "I'm still working on your previous message. Please wait for my answer before sending a new one."
	ThinkingText = "Thinking..."
	FailureText  = "Sorry, I couldn't come up with an answer this time. Please try again."
)

// Messenger is the outbound side of the platform used by the webhook flow.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev dispatch.Event, convo string) (string, error)
}

// Locker runs fn while holding the chat's session lock; see session.Manager.
type Locker interface {
	Do(ctx context.Context, user storage.ChatUser, fn func(ctx context.Context) error) (bool, error)
}

type Options struct {
	ContextWindow int
	ParseMode     string
	// Self is stored as the author of the bot's answers.
	Self storage.Sender
}

// Bot runs one webhook event through lock, context, dispatch and reply.
type Bot struct {
	messenger  Messenger
	locker     Locker
	store      storage.Store
	dispatcher Dispatcher

	window    int
	parseMode string
	self      storage.Sender
	now       func() time.Time
	logger    zerolog.Logger
}

func NewBot(m Messenger, locker Locker, store storage.Store, d Dispatcher, opts Options, logger zerolog.Logger) *Bot {
	self := opts.Self
	self.IsBot = true
	return &Bot{
		messenger:  m,
		locker:     locker,
		store:      store,
		dispatcher: d,
		window:     config.ClampWindow(opts.ContextWindow),
		parseMode:  opts.ParseMode,
		self:       self,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With().Str("component", "bot").Logger(),
	}
}

// HandleUpdate processes one update to completion. It returns ErrInvalidMessage for
// updates that cannot be normalized; nothing is stored or sent for those. A busy chat
// is not an error: the busy notice has been sent and the event is dropped.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	ev, err := NewEvent(update)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("invalid").Inc()
		b.logger.Warn().Int("update_id", update.UpdateID).Msg("update without a usable message")
		return err
	}

	log := b.logger.With().
		Str("event_id", uuid.NewString()).
		Int64("chat_id", ev.ChatID).
		Int("message_id", ev.MessageID).
		Str("intent", ev.Intent.Kind.String()).
		Logger()
	metrics.WebhookEvents.WithLabelValues(ev.Intent.Kind.String()).Inc()
	log.Info().Msg("webhook event received")

	user := storage.ChatUser{
		ChatID:    ev.ChatID,
		Username:  ev.Sender.Username,
		FirstName: ev.Sender.FirstName,
		LastName:  ev.Sender.LastName,
	}
	acquired, err := b.locker.Do(ctx, user, func(ctx context.Context) error {
		return b.process(ctx, ev, log)
	})
	if err != nil {
		log.Error().Err(err).Msg("event failed")
		return err
	}
	if !acquired {
		log.Info().Msg("chat busy, event dropped")
	}
	return nil
}

func (b *Bot) process(ctx context.Context, ev dispatch.Event, log zerolog.Logger) error {
	thinkingID, err := b.messenger.SendMessage(ctx, ev.ChatID, ThinkingText, "")
	if err != nil {
		log.Warn().Err(err).Msg("failed to send thinking notice")
	}
	if err := b.messenger.SendChatAction(ctx, ev.ChatID, tgbotapi.ChatTyping); err != nil {
		log.Warn().Err(err).Msg("failed to send typing action")
	}

	answer, answerErr := b.answer(ctx, ev)
	if answerErr != nil {
		log.Error().Err(answerErr).Msg("failed to produce answer")
	}

	if thinkingID != 0 {
		if err := b.messenger.DeleteMessage(ctx, ev.ChatID, thinkingID); err != nil {
			log.Warn().Err(err).Msg("failed to delete thinking notice")
		}
	}

	reply, parseMode := answer, b.parseMode
	if answerErr != nil || answer == "" {
		if answerErr == nil {
			log.Warn().Msg("no usable completion")
		}
		reply, parseMode = FailureText, ""
	}

	sentID, err := b.messenger.SendMessage(ctx, ev.ChatID, reply, parseMode)
	if err != nil {
		return fmt.Errorf("deliver reply: %w", errors.Join(answerErr, err))
	}
	out := storage.ChatMessage{
		ChatID:    ev.ChatID,
		Text:      reply,
		From:      b.self,
		Date:      b.now(),
		MessageID: sentID,
	}
	if _, err := b.store.InsertMessage(ctx, out); err != nil {
		log.Error().Err(err).Msg("failed to store reply")
	}
	log.Info().Int("reply_len", len(reply)).Bool("fallback", reply == FailureText).Msg("reply delivered")
	return nil
}

// answer stores the inbound message, builds the context from the rows before it and
// dispatches the event.
func (b *Bot) answer(ctx context.Context, ev dispatch.Event) (string, error) {
	in := storage.ChatMessage{
		ChatID:    ev.ChatID,
		Text:      ev.Text,
		From:      ev.Sender,
		Entities:  ev.Entities,
		Date:      ev.Date,
		MessageID: ev.MessageID,
	}
	inID, err := b.store.InsertMessage(ctx, in)
	if err != nil {
		return "", fmt.Errorf("store inbound message: %w", err)
	}
	recent, err := b.store.RecentMessages(ctx, ev.ChatID, b.window, inID)
	if err != nil {
		return "", fmt.Errorf("load context: %w", err)
	}
	return b.dispatcher.Dispatch(ctx, ev, history.Format(recent))
}
