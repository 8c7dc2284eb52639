package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"webhook-chatter/internal/pricing"
)

type priceResponse struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Status int             `json:"status"`
}

// TokenPrice proxies a quote lookup. The status field mirrors the upstream status,
// or the gateway's own status when the upstream was never reached.
func (h *Handler) TokenPrice(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "token_id")
	if tokenID == "" {
		h.JSON(w, http.StatusBadRequest, priceResponse{Error: "token_id is required", Status: http.StatusBadRequest})
		return
	}

	res, err := h.prices.Price(r.Context(), tokenID)
	if err != nil {
		status := http.StatusBadGateway
		var upErr *pricing.UpstreamError
		switch {
		case errors.As(err, &upErr):
			status = upErr.Status
		case errors.Is(err, pricing.ErrNotConfigured):
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn().Err(err).Str("token_id", tokenID).Msg("token price lookup failed")
		h.JSON(w, status, priceResponse{Error: err.Error(), Status: status})
		return
	}
	h.JSON(w, http.StatusOK, priceResponse{Data: res.Data, Status: res.Status})
}
