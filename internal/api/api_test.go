package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"webhook-chatter/internal/llm"
	"webhook-chatter/internal/pricing"
	"webhook-chatter/internal/telegram"
)

type fakeUpdates struct {
	updates []tgbotapi.Update
	err     error
	ctxErr  error
}

func (f *fakeUpdates) HandleUpdate(ctx context.Context, u tgbotapi.Update) error {
	f.updates = append(f.updates, u)
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return f.err
	}
	if u.Message == nil || u.Message.Chat == nil || u.Message.Chat.ID == 0 {
		return telegram.ErrInvalidMessage
	}
	return nil
}

type fakeLLM struct {
	resp llm.Response
	err  error
	msgs []llm.Message
}

func (f *fakeLLM) Generate(_ context.Context, msgs []llm.Message) (llm.Response, error) {
	f.msgs = msgs
	return f.resp, f.err
}

type fakePrices struct {
	res pricing.Result
	err error
}

func (f fakePrices) Price(context.Context, string) (pricing.Result, error) { return f.res, f.err }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(u UpdateHandler, chat llm.Client, prices PriceSource, checks map[string]Pinger) *httptest.Server {
	h := NewHandler(u, chat, prices, checks, zerolog.Nop())
	return httptest.NewServer(NewRouter(h, zerolog.Nop()))
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeUpdates{}, &fakeLLM{}, fakePrices{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "healthy" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	checks := map[string]Pinger{"postgres": fakePinger{err: errors.New("down")}}
	srv := newTestServer(&fakeUpdates{}, &fakeLLM{}, fakePrices{}, checks)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "degraded" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestWebhookEchoesPayload(t *testing.T) {
	u := &fakeUpdates{}
	srv := newTestServer(u, &fakeLLM{}, fakePrices{}, nil)
	defer srv.Close()

	payload := `{"update_id":5,"message":{"message_id":1,"chat":{"id":42},"text":"hello"}}`
	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != payload {
		t.Fatalf("payload not echoed: %q", body)
	}
	if len(u.updates) != 1 || u.updates[0].Message.Text != "hello" {
		t.Fatalf("update not handled: %+v", u.updates)
	}
	if u.ctxErr != nil {
		t.Fatalf("handler context must not be cancelled: %v", u.ctxErr)
	}
}

func TestWebhookInvalidMessage(t *testing.T) {
	srv := newTestServer(&fakeUpdates{}, &fakeLLM{}, fakePrices{}, nil)
	defer srv.Close()

	for _, payload := range []string{`not json`, `{"update_id":1}`, `{"message":{"text":"no chat"}}`} {
		resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(payload))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", payload, resp.StatusCode)
		}
		if body := decodeBody(t, resp); body["error"] != "Invalid message format" {
			t.Fatalf("%s: unexpected body %v", payload, body)
		}
	}
}

func TestWebhookProcessingErrorStillAcknowledged(t *testing.T) {
	srv := newTestServer(&fakeUpdates{err: errors.New("db down")}, &fakeLLM{}, fakePrices{}, nil)
	defer srv.Close()

	payload := `{"update_id":5,"message":{"message_id":1,"chat":{"id":42},"text":"hello"}}`
	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
}

func TestMessage(t *testing.T) {
	chat := &fakeLLM{resp: llm.Response{Role: "assistant", Content: "Hello!"}}
	srv := newTestServer(&fakeUpdates{}, chat, fakePrices{}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["role"] != "assistant" || body["content"] != "Hello!" {
		t.Fatalf("unexpected body %v", body)
	}
	if len(chat.msgs) != 1 || chat.msgs[0].Role != llm.RoleUser || chat.msgs[0].Content != "hi" {
		t.Fatalf("unexpected prompt %+v", chat.msgs)
	}
}

func TestMessageErrors(t *testing.T) {
	cases := []struct {
		name   string
		chat   *fakeLLM
		body   string
		status int
	}{
		{"bad json", &fakeLLM{}, `{`, http.StatusBadRequest},
		{"empty message", &fakeLLM{}, `{"message":"  "}`, http.StatusBadRequest},
		{"empty completion", &fakeLLM{err: llm.ErrEmptyCompletion}, `{"message":"hi"}`, http.StatusBadGateway},
		{"provider error", &fakeLLM{err: errors.New("boom")}, `{"message":"hi"}`, http.StatusBadGateway},
	}
	for _, tc := range cases {
		srv := newTestServer(&fakeUpdates{}, tc.chat, fakePrices{}, nil)
		resp, err := http.Post(srv.URL+"/message", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: post: %v", tc.name, err)
		}
		resp.Body.Close()
		srv.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: want %d, got %d", tc.name, tc.status, resp.StatusCode)
		}
	}
}

func TestTokenPrice(t *testing.T) {
	prices := fakePrices{res: pricing.Result{Status: 200, Data: json.RawMessage(`{"symbol":"ETH"}`)}}
	srv := newTestServer(&fakeUpdates{}, &fakeLLM{}, prices, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/token-price/1027")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body := decodeBody(t, resp)
	if body["status"] != float64(200) {
		t.Fatalf("unexpected body %v", body)
	}
	if data, ok := body["data"].(map[string]any); !ok || data["symbol"] != "ETH" {
		t.Fatalf("unexpected data %v", body["data"])
	}
}

func TestTokenPriceUpstreamError(t *testing.T) {
	prices := fakePrices{err: &pricing.UpstreamError{Status: 401, Body: "unauthorized"}}
	srv := newTestServer(&fakeUpdates{}, &fakeLLM{}, prices, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/token-price/1027")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != 401 {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != float64(401) || body["error"] == "" {
		t.Fatalf("unexpected body %v", body)
	}
}
