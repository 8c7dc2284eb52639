// Package telegram talks to the Telegram Bot API and runs the per-event webhook flow.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"webhook-chatter/internal/metrics"
	"webhook-chatter/internal/storage"
)

// maxMessageRunes is the Bot API limit on the length of a single text message.
const maxMessageRunes = 4096

type ClientOptions struct {
	Retries       int
	RetryDelay    time.Duration
	RatePerSecond float64
}

// Client wraps Bot API calls with a shared rate limit and fixed-delay retries.
// Transport failures, 429 and 5xx answers are retried; other API errors are final.
type Client struct {
	s        sender
	self     storage.Sender
	limiter  *rate.Limiter
	attempts uint64
	delay    time.Duration
	logger   zerolog.Logger
}

func NewClient(token string, opts ClientOptions, logger zerolog.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init bot api: %w", err)
	}
	c := newClient(botAPISender{api: api}, opts, logger)
	c.self = storage.Sender{
		ID:        api.Self.ID,
		IsBot:     true,
		Username:  api.Self.UserName,
		FirstName: api.Self.FirstName,
		LastName:  api.Self.LastName,
	}
	return c, nil
}

func newClient(s sender, opts ClientOptions, logger zerolog.Logger) *Client {
	attempts := opts.Retries
	if attempts < 1 {
		attempts = 1
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Client{
		s:        s,
		self:     storage.Sender{IsBot: true},
		limiter:  rate.NewLimiter(limit, 1),
		attempts: uint64(attempts),
		delay:    opts.RetryDelay,
		logger:   logger.With().Str("component", "telegram").Logger(),
	}
}

// Self is the bot's own identity, used as the author of stored answers.
func (c *Client) Self() storage.Sender {
	return c.self
}

// SendMessage sends text and returns the platform id of the (last) sent message.
// Text over the platform limit is split on line boundaries. A message the platform
// refuses to parse with parseMode is sent again without formatting.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string) (int, error) {
	var lastID int
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		id, err := c.sendChunk(ctx, chatID, chunk, parseMode)
		if err != nil {
			return lastID, fmt.Errorf("send message to chat %d: %w", chatID, err)
		}
		lastID = id
	}
	return lastID, nil
}

func (c *Client) sendChunk(ctx context.Context, chatID int64, text, parseMode string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode

	var sent tgbotapi.Message
	send := func() error {
		var err error
		sent, err = c.s.Send(msg)
		return err
	}
	err := c.call(ctx, "sendMessage", send)
	if err != nil && parseMode != "" && isParseError(err) {
		c.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("formatted message rejected, resending as plain text")
		msg.ParseMode = ""
		err = c.call(ctx, "sendMessage", send)
	}
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	err := c.call(ctx, "deleteMessage", func() error {
		_, err := c.s.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
		return err
	})
	if err != nil {
		return fmt.Errorf("delete message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// SendChatAction shows a transient status such as tgbotapi.ChatTyping.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	err := c.call(ctx, "sendChatAction", func() error {
		_, err := c.s.Request(tgbotapi.NewChatAction(chatID, action))
		return err
	})
	if err != nil {
		return fmt.Errorf("send chat action to chat %d: %w", chatID, err)
	}
	return nil
}

// FileURL resolves a file id to a direct download URL. The URL embeds the bot token.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	var url string
	err := c.call(ctx, "getFile", func() error {
		var err error
		url, err = c.s.GetFileDirectURL(fileID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	return url, nil
}

func (c *Client) SetWebhook(ctx context.Context, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	err = c.call(ctx, "setWebhook", func() error {
		_, err := c.s.Request(wh)
		return err
	})
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	err := c.call(ctx, "deleteWebhook", func() error {
		_, err := c.s.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}

func (c *Client) WebhookInfo(ctx context.Context) (tgbotapi.WebhookInfo, error) {
	var info tgbotapi.WebhookInfo
	err := c.call(ctx, "getWebhookInfo", func() error {
		var err error
		info, err = c.s.GetWebhookInfo()
		return err
	})
	if err != nil {
		return tgbotapi.WebhookInfo{}, fmt.Errorf("get webhook info: %w", err)
	}
	return info, nil
}

func (c *Client) call(ctx context.Context, method string, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), c.attempts-1), ctx)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		metrics.DeliveryAttempts.WithLabelValues(method).Inc()
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn().Err(err).Str("method", method).Int("attempt", attempt).Msg("telegram call failed")
		return err
	}, b)
	if err != nil {
		metrics.DeliveryFailures.WithLabelValues(method).Inc()
	}
	return err
}

func retryable(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return true
}

func isParseError(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "can't parse entities")
}

// splitMessage cuts text into pieces of at most limit runes, preferring to break
// after a newline.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
