package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"webhook-chatter/internal/telegram"
)

const invalidMessageFormat = "Invalid message format"

// Webhook receives a Telegram update. The platform only needs a 200, so every
// outcome answers 200: malformed updates with an error body, everything else with the
// original payload echoed back. Processing runs to completion even if the caller
// disconnects.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Error(w, http.StatusOK, invalidMessageFormat)
		return
	}
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		h.logger.Warn().Err(err).Msg("undecodable webhook payload")
		h.Error(w, http.StatusOK, invalidMessageFormat)
		return
	}

	err = h.updates.HandleUpdate(context.WithoutCancel(r.Context()), update)
	switch {
	case errors.Is(err, telegram.ErrInvalidMessage):
		h.Error(w, http.StatusOK, invalidMessageFormat)
		return
	case err != nil:
		h.logger.Error().Err(err).Int("update_id", update.UpdateID).Msg("webhook event failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
