package api

import (
	"context"
	"net/http"
	"time"
)

type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string           `json:"status"`
	Checks map[string]Check `json:"checks,omitempty"`
}

// Health reports "healthy" when every configured dependency answers a ping.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy"}
	code := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]Check, len(h.checks))
	}
	for name, p := range h.checks {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			resp.Checks[name] = Check{Status: "fail", Message: "connection failed"}
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}
	h.JSON(w, code, resp)
}
