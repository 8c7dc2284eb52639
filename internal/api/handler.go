package api

import (
	"context"
	"encoding/json"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"webhook-chatter/internal/llm"
	"webhook-chatter/internal/pricing"
)

type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

type PriceSource interface {
	Price(ctx context.Context, tokenID string) (pricing.Result, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	updates UpdateHandler
	chat    llm.Client
	prices  PriceSource
	checks  map[string]Pinger
	logger  zerolog.Logger
}

// NewHandler builds the handler set. checks are pinged by /health and may be empty.
func NewHandler(updates UpdateHandler, chat llm.Client, prices PriceSource, checks map[string]Pinger, logger zerolog.Logger) *Handler {
	return &Handler{
		updates: updates,
		chat:    chat,
		prices:  prices,
		checks:  checks,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
