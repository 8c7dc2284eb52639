// Package dispatch picks and runs the completion strategy for an inbound event.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"webhook-chatter/internal/feed"
	"webhook-chatter/internal/llm"
	"webhook-chatter/internal/metrics"
)

// ErrUnknownFeed is returned when no feed is registered for a command.
var ErrUnknownFeed = errors.New("no feed registered for command")

// Strategy names the completion branch chosen for an event.
type Strategy string

const (
	StrategyFeed  Strategy = "feed"
	StrategyImage Strategy = "image"
	StrategyVideo Strategy = "video"
	StrategyText  Strategy = "text"
)

type FeedFetcher interface {
	Fetch(ctx context.Context, url string, limit int) ([]feed.Entry, error)
}

// FileResolver turns a platform file id into a URL the model can download.
type FileResolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

type Options struct {
	Text   llm.Client
	Vision llm.Client

	// Feeds maps a command name (without slash) to a feed URL.
	Feeds     map[string]string
	FeedItems int
	Fetcher   FeedFetcher
	Files     FileResolver

	TextPersona   string
	FeedPersona   string
	VisionPersona string
}

type Dispatcher struct {
	text   llm.Client
	vision llm.Client

	feeds     map[string]string
	feedItems int
	fetcher   FeedFetcher
	files     FileResolver

	textPersona   string
	feedPersona   string
	visionPersona string

	logger zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		text:          opts.Text,
		vision:        opts.Vision,
		feeds:         make(map[string]string, len(opts.Feeds)),
		feedItems:     opts.FeedItems,
		fetcher:       opts.Fetcher,
		files:         opts.Files,
		textPersona:   opts.TextPersona,
		feedPersona:   opts.FeedPersona,
		visionPersona: opts.VisionPersona,
		logger:        logger.With().Str("component", "dispatch").Logger(),
	}
	for cmd, url := range opts.Feeds {
		d.feeds[strings.ToLower(strings.TrimPrefix(cmd, "/"))] = url
	}
	if d.vision == nil {
		d.vision = d.text
	}
	if d.feedItems <= 0 {
		d.feedItems = 10
	}
	if d.textPersona == "" {
		d.textPersona = DefaultTextPersona
	}
	if d.feedPersona == "" {
		d.feedPersona = DefaultFeedPersona
	}
	if d.visionPersona == "" {
		d.visionPersona = DefaultVisionPersona
	}
	return d
}

// Select returns the strategy for ev: a registered feed command first, then an
// attached photo, then a video, then plain text.
func (d *Dispatcher) Select(ev Event) Strategy {
	if ev.Intent.Kind == KindCommand && d.fetcher != nil {
		if _, ok := d.feeds[strings.ToLower(ev.Intent.Command)]; ok {
			return StrategyFeed
		}
	}
	if ev.PhotoFileID != "" {
		return StrategyImage
	}
	if ev.HasVideo {
		return StrategyVideo
	}
	return StrategyText
}

// Dispatch produces the answer for ev given the formatted conversation context. An
// empty string with a nil error means the model returned no usable completion.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event, convo string) (string, error) {
	strategy := d.Select(ev)
	start := time.Now()

	var (
		out string
		err error
	)
	switch strategy {
	case StrategyFeed:
		out, err = d.feedSummary(ctx, ev, convo)
	case StrategyImage:
		out, err = d.image(ctx, ev, convo)
	case StrategyVideo:
		out = UnsupportedVideoText
	default:
		out, err = d.textAnswer(ctx, ev, convo)
	}

	metrics.CompletionDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case out == "":
		outcome = "empty"
	}
	metrics.Completions.WithLabelValues(string(strategy), outcome).Inc()
	d.logger.Debug().
		Int64("chat_id", ev.ChatID).
		Str("strategy", string(strategy)).
		Str("outcome", outcome).
		Dur("latency", time.Since(start)).
		Msg("dispatch finished")
	return out, err
}

func (d *Dispatcher) textAnswer(ctx context.Context, ev Event, convo string) (string, error) {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: d.textPersona}}
	msgs = appendContext(msgs, convo)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: ev.Text})
	return complete(ctx, d.text, msgs)
}

func (d *Dispatcher) image(ctx context.Context, ev Event, convo string) (string, error) {
	if d.files == nil {
		return "", fmt.Errorf("no file resolver configured")
	}
	url, err := d.files.FileURL(ctx, ev.PhotoFileID)
	if err != nil {
		return "", fmt.Errorf("resolve photo %s: %w", ev.PhotoFileID, err)
	}
	question := strings.TrimSpace(ev.Text)
	if question == "" {
		question = defaultImageQuestion
	}
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: d.visionPersona}}
	msgs = appendContext(msgs, convo)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question, ImageURL: url})
	return complete(ctx, d.vision, msgs)
}

func (d *Dispatcher) feedSummary(ctx context.Context, ev Event, _ string) (string, error) {
	url, err := d.feedURL(ev.Intent.Command)
	if err != nil {
		return "", err
	}
	entries, err := d.fetcher.Fetch(ctx, url, d.feedItems)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		d.logger.Warn().Str("feed", url).Msg("feed returned no entries")
		return "", nil
	}
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: d.feedPersona},
		{Role: llm.RoleUser, Content: buildFeedPrompt(ev.Intent.Command, entries, ev.Intent.Args)},
	}
	return complete(ctx, d.text, msgs)
}

func (d *Dispatcher) feedURL(command string) (string, error) {
	url, ok := d.feeds[strings.ToLower(command)]
	if !ok {
		return "", fmt.Errorf("%w: /%s", ErrUnknownFeed, command)
	}
	return url, nil
}

func appendContext(msgs []llm.Message, convo string) []llm.Message {
	if strings.TrimSpace(convo) == "" {
		return msgs
	}
	return append(msgs, llm.Message{Role: llm.RoleSystem, Content: contextPreamble + convo})
}

// complete calls the model and folds an empty or malformed completion into "".
func complete(ctx context.Context, client llm.Client, msgs []llm.Message) (string, error) {
	if client == nil {
		return "", fmt.Errorf("no completion client configured")
	}
	resp, err := client.Generate(ctx, msgs)
	if errors.Is(err, llm.ErrEmptyCompletion) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func buildFeedPrompt(command string, entries []feed.Entry, focus string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Latest entries from the /%s feed:\n\n", command)
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e.Title)
		if e.Link != "" {
			fmt.Fprintf(&b, "   %s\n", e.Link)
		}
		if e.Summary != "" {
			fmt.Fprintf(&b, "   %s\n", e.Summary)
		}
	}
	b.WriteString("\nWrite a digest of the most important stories above.")
	if focus = strings.TrimSpace(focus); focus != "" {
		fmt.Fprintf(&b, " Focus on: %s.", focus)
	}
	return b.String()
}
