package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"artshield/internal/domain"
	"artshield/internal/providers/compute"
)

type webhookRequest struct {
	ExternalID   string          `json:"external_id" validate:"required"`
	Status       string          `json:"status" validate:"required"`
	OutputURL    string          `json:"output_url"`
	OutputKey    string          `json:"output_key"`
	ErrorMessage string          `json:"error_message"`
	Meta         json.RawMessage `json:"meta"`
}

// ProtectionWebhook receives push callbacks from the compute services. The
// shared-secret header gates it; unknown external ids return 404 so a
// misconfigured provider notices, while replays of settled steps return 200.
func (a *App) ProtectionWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Webhook-Secret")
	if a.Cfg.WebhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(a.Cfg.WebhookSecret)) != 1 {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid webhook secret")
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	err := a.Service.ApplyPushResult(r.Context(), req.ExternalID, compute.StatusResult{
		Status:       req.Status,
		OutputURL:    req.OutputURL,
		OutputKey:    req.OutputKey,
		ErrorMessage: req.ErrorMessage,
		Meta:         req.Meta,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "unknown external id")
			return
		}
		a.Logger.Error().Err(err).Str("external_id", req.ExternalID).Msg("webhook apply failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to apply result")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "applied"})
}
