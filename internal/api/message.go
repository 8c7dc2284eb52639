package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"webhook-chatter/internal/llm"
)

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message runs a single stateless user-role completion.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := h.chat.Generate(r.Context(), []llm.Message{{Role: llm.RoleUser, Content: req.Message}})
	if errors.Is(err, llm.ErrEmptyCompletion) {
		h.Error(w, http.StatusBadGateway, "model returned no completion")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("completion failed")
		h.Error(w, http.StatusBadGateway, "completion failed")
		return
	}
	role := resp.Role
	if role == "" {
		role = llm.RoleAssistant
	}
	h.JSON(w, http.StatusOK, messageResponse{Role: role, Content: resp.Content})
}
