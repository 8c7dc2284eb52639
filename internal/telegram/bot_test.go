package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"webhook-chatter/internal/dispatch"
	"webhook-chatter/internal/feed"
	"webhook-chatter/internal/history"
	"webhook-chatter/internal/llm"
	"webhook-chatter/internal/session"
	"webhook-chatter/internal/storage"
)

type sentMessage struct {
	chatID    int64
	text      string
	parseMode string
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMessage
	deleted []int
	actions []string
	failOn  string
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text, parseMode string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && text == f.failOn {
		return 0, errors.New("send failed")
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, parseMode: parseMode})
	return f.nextID, nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) SendChatAction(_ context.Context, _ int64, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

type fakeDispatcher struct {
	answer string
	err    error
	panics bool

	calls  int
	events []dispatch.Event
	convos []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev dispatch.Event, convo string) (string, error) {
	f.calls++
	f.events = append(f.events, ev)
	f.convos = append(f.convos, convo)
	if f.panics {
		panic("dispatcher exploded")
	}
	return f.answer, f.err
}

// releaseCounter counts ReleaseLock calls on top of the memory store.
type releaseCounter struct {
	*storage.MemoryStore
	releases atomic.Int32
}

func (r *releaseCounter) ReleaseLock(ctx context.Context, chatID int64, token string) (bool, error) {
	r.releases.Add(1)
	return r.MemoryStore.ReleaseLock(ctx, chatID, token)
}

type harness struct {
	bot        *Bot
	store      *releaseCounter
	messenger  *fakeMessenger
	dispatcher *fakeDispatcher
}

func newHarness(d *fakeDispatcher, window int) *harness {
	h := newHarnessWith(d, window)
	h.dispatcher = d
	return h
}

func newHarnessWith(d Dispatcher, window int) *harness {
	store := &releaseCounter{MemoryStore: storage.NewMemoryStore()}
	m := &fakeMessenger{}
	locks := session.NewManager(store, m, BusyText, zerolog.Nop())
	b := NewBot(m, locks, store, d, Options{
		ContextWindow: window,
		ParseMode:     "Markdown",
		Self:          storage.Sender{ID: 1000, Username: "chatter_bot"},
	}, zerolog.Nop())
	return &harness{bot: b, store: store, messenger: m}
}

func textUpdate(chatID int64, messageID int, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: messageID,
		Date:      1700000000,
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      &tgbotapi.User{ID: 9, FirstName: "Ann", UserName: "ann"},
		Text:      text,
	}}
}

func TestHandleUpdate_HelloWithEmptyHistory(t *testing.T) {
	h := newHarness(&fakeDispatcher{answer: "Hi! How can I help?"}, 50)
	ctx := context.Background()

	if err := h.bot.HandleUpdate(ctx, textUpdate(42, 1, "hello")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if h.dispatcher.calls != 1 || h.dispatcher.convos[0] != "" {
		t.Fatalf("want one dispatch with empty context, got %d %q", h.dispatcher.calls, h.dispatcher.convos)
	}
	if h.dispatcher.events[0].Text != "hello" {
		t.Fatalf("unexpected event: %+v", h.dispatcher.events[0])
	}

	texts := h.messenger.texts()
	if len(texts) != 2 || texts[0] != ThinkingText || texts[1] != "Hi! How can I help?" {
		t.Fatalf("unexpected messages: %q", texts)
	}
	if h.messenger.sent[1].parseMode != "Markdown" {
		t.Fatalf("answer should use configured parse mode")
	}
	if len(h.messenger.deleted) != 1 || h.messenger.deleted[0] != 1 {
		t.Fatalf("thinking notice not deleted: %v", h.messenger.deleted)
	}
	if len(h.messenger.actions) != 1 || h.messenger.actions[0] != tgbotapi.ChatTyping {
		t.Fatalf("typing action not sent: %v", h.messenger.actions)
	}

	stored, _ := h.store.RecentMessages(ctx, 42, 0, 0)
	if len(stored) != 2 {
		t.Fatalf("want inbound and outbound stored, got %d", len(stored))
	}
	if stored[0].Text != "hello" || stored[0].From.IsBot {
		t.Fatalf("unexpected inbound row: %+v", stored[0])
	}
	if stored[1].Text != "Hi! How can I help?" || !stored[1].From.IsBot || stored[1].From.ID != 1000 {
		t.Fatalf("unexpected outbound row: %+v", stored[1])
	}

	user, _ := h.store.GetUser(ctx, 42)
	if user == nil || user.IsLocking {
		t.Fatalf("user must exist and be unlocked: %+v", user)
	}
	if h.store.releases.Load() != 1 {
		t.Fatalf("want exactly one release, got %d", h.store.releases.Load())
	}
}

func TestHandleUpdate_ContextFromPreviousTurns(t *testing.T) {
	h := newHarness(&fakeDispatcher{answer: "answer"}, 50)
	ctx := context.Background()

	for i, text := range []string{"first", "second"} {
		if err := h.bot.HandleUpdate(ctx, textUpdate(42, i+1, text)); err != nil {
			t.Fatalf("handle %q: %v", text, err)
		}
	}
	want := "Human: first\nAssistant: answer"
	if got := h.dispatcher.convos[1]; got != want {
		t.Fatalf("want context %q, got %q", want, got)
	}
}

func TestHandleUpdate_ContextWindowCapped(t *testing.T) {
	h := newHarness(&fakeDispatcher{answer: "ok"}, 500)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		_, err := h.store.InsertMessage(ctx, storage.ChatMessage{ChatID: 42, Text: fmt.Sprintf("old %d", i)})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := h.bot.HandleUpdate(ctx, textUpdate(42, 1, "new")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	turns := history.Parse(h.dispatcher.convos[0])
	if len(turns) != 50 {
		t.Fatalf("want 50 turns, got %d", len(turns))
	}
	if turns[49].Text != "old 119" {
		t.Fatalf("want newest rows, last turn %q", turns[49].Text)
	}
}

func TestHandleUpdate_BusyChat(t *testing.T) {
	h := newHarness(&fakeDispatcher{answer: "never"}, 50)
	ctx := context.Background()

	if _, err := storage.EnsureUser(ctx, h.store, storage.ChatUser{ChatID: 42}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if ok, _ := h.store.AcquireLock(ctx, 42, "other-event"); !ok {
		t.Fatalf("precondition: lock")
	}

	if err := h.bot.HandleUpdate(ctx, textUpdate(42, 2, "are you there?")); err != nil {
		t.Fatalf("busy chat is not an error: %v", err)
	}
	if h.dispatcher.calls != 0 {
		t.Fatalf("dispatcher must not run for a busy chat")
	}
	if texts := h.messenger.texts(); len(texts) != 1 || texts[0] != BusyText {
		t.Fatalf("want only the busy notice, got %q", texts)
	}
	if stored, _ := h.store.RecentMessages(ctx, 42, 0, 0); len(stored) != 0 {
		t.Fatalf("busy event must not be stored, got %d rows", len(stored))
	}
	if h.store.releases.Load() != 0 {
		t.Fatalf("busy event must not release another event's lock")
	}
}

func TestHandleUpdate_MalformedCompletion(t *testing.T) {
	h := newHarness(&fakeDispatcher{answer: ""}, 50)
	ctx := context.Background()

	if err := h.bot.HandleUpdate(ctx, textUpdate(42, 1, "hello")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	texts := h.messenger.texts()
	if len(texts) != 2 || texts[1] != FailureText {
		t.Fatalf("want failure apology, got %q", texts)
	}
	stored, _ := h.store.RecentMessages(ctx, 42, 0, 0)
	if len(stored) != 2 || stored[1].Text != FailureText || !stored[1].From.IsBot {
		t.Fatalf("apology should be stored like an answer, got %+v", stored)
	}
	if h.store.releases.Load() != 1 {
		t.Fatalf("want exactly one release, got %d", h.store.releases.Load())
	}
}

func TestHandleUpdate_DispatchError(t *testing.T) {
	h := newHarness(&fakeDispatcher{err: errors.New("provider down")}, 50)

	if err := h.bot.HandleUpdate(context.Background(), textUpdate(42, 1, "hello")); err != nil {
		t.Fatalf("apology was delivered, want nil error: %v", err)
	}
	if texts := h.messenger.texts(); texts[len(texts)-1] != FailureText {
		t.Fatalf("want failure apology last, got %q", texts)
	}
	if h.store.releases.Load() != 1 {
		t.Fatalf("want exactly one release, got %d", h.store.releases.Load())
	}
}

func TestHandleUpdate_UndeliverableAnswer(t *testing.T) {
	h := newHarness(&fakeDispatcher{answer: "lost"}, 50)
	h.messenger.failOn = "lost"
	ctx := context.Background()

	if err := h.bot.HandleUpdate(ctx, textUpdate(42, 1, "hello")); err == nil {
		t.Fatalf("expected delivery error")
	}
	if stored, _ := h.store.RecentMessages(ctx, 42, 0, 0); len(stored) != 1 {
		t.Fatalf("undelivered reply must not be stored, got %d rows", len(stored))
	}
	if user, _ := h.store.GetUser(ctx, 42); user.IsLocking {
		t.Fatalf("lock must be released")
	}
}

func TestHandleUpdate_PanicReleasesLock(t *testing.T) {
	h := newHarness(&fakeDispatcher{panics: true}, 50)
	ctx := context.Background()

	err := h.bot.HandleUpdate(ctx, textUpdate(42, 1, "hello"))
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("want recovered panic error, got %v", err)
	}
	if h.store.releases.Load() != 1 {
		t.Fatalf("want exactly one release, got %d", h.store.releases.Load())
	}
	if user, _ := h.store.GetUser(ctx, 42); user.IsLocking {
		t.Fatalf("lock must be released after panic")
	}
}

func TestHandleUpdate_InvalidUpdate(t *testing.T) {
	h := newHarness(&fakeDispatcher{answer: "x"}, 50)

	err := h.bot.HandleUpdate(context.Background(), tgbotapi.Update{UpdateID: 1})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("want ErrInvalidMessage, got %v", err)
	}
	if len(h.messenger.texts()) != 0 || h.dispatcher.calls != 0 {
		t.Fatalf("invalid update must not touch anything")
	}
}

func TestHandleUpdate_ChatsAreIndependent(t *testing.T) {
	h := newHarness(&fakeDispatcher{answer: "ok"}, 50)
	ctx := context.Background()

	if _, err := storage.EnsureUser(ctx, h.store, storage.ChatUser{ChatID: 1}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	h.store.AcquireLock(ctx, 1, "other-event")

	if err := h.bot.HandleUpdate(ctx, textUpdate(2, 1, "hi")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.dispatcher.calls != 1 {
		t.Fatalf("a lock on chat 1 must not block chat 2")
	}
}

type countingLLM struct {
	mu    sync.Mutex
	calls int
	last  []llm.Message
}

func (c *countingLLM) Generate(_ context.Context, msgs []llm.Message) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = msgs
	return llm.Response{Role: llm.RoleAssistant, Content: "digest"}, nil
}

type recordingFetcher struct {
	mu   sync.Mutex
	urls []string
}

func (r *recordingFetcher) Fetch(_ context.Context, url string, limit int) ([]feed.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	return []feed.Entry{{Title: "Story", Link: "https://example.com/story"}}, nil
}

func newDispatchHarness(model *countingLLM, fetcher *recordingFetcher) *harness {
	d := dispatch.New(dispatch.Options{
		Text:    model,
		Feeds:   map[string]string{"verge": "https://www.theverge.com/rss/index.xml"},
		Fetcher: fetcher,
	}, zerolog.Nop())
	return newHarnessWith(d, 50)
}

func TestHandleUpdate_FeedCommandFetchesFeed(t *testing.T) {
	model, fetcher := &countingLLM{}, &recordingFetcher{}
	h := newDispatchHarness(model, fetcher)

	u := textUpdate(42, 1, "/verge")
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}}
	if err := h.bot.HandleUpdate(context.Background(), u); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fetcher.urls) != 1 || fetcher.urls[0] != "https://www.theverge.com/rss/index.xml" {
		t.Fatalf("feed not fetched: %v", fetcher.urls)
	}
	if model.calls != 1 || !strings.Contains(model.last[len(model.last)-1].Content, "Story") {
		t.Fatalf("feed entries not summarized: %d calls", model.calls)
	}
	texts := h.messenger.texts()
	if len(texts) == 0 || texts[len(texts)-1] != "digest" {
		t.Fatalf("unexpected replies: %q", texts)
	}
}

func TestHandleUpdate_VideoSkipsModel(t *testing.T) {
	model, fetcher := &countingLLM{}, &recordingFetcher{}
	h := newDispatchHarness(model, fetcher)

	u := textUpdate(42, 1, "")
	u.Message.Video = &tgbotapi.Video{FileID: "v"}
	if err := h.bot.HandleUpdate(context.Background(), u); err != nil {
		t.Fatalf("handle: %v", err)
	}
	texts := h.messenger.texts()
	if len(texts) == 0 || texts[len(texts)-1] != dispatch.UnsupportedVideoText {
		t.Fatalf("unexpected replies: %q", texts)
	}
	if model.calls != 0 || len(fetcher.urls) != 0 {
		t.Fatalf("video must not reach the model: %d calls", model.calls)
	}
}
