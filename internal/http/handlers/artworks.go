package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"artshield/internal/domain"
	"artshield/internal/protect"
)

type planStepDTO struct {
	Method string         `json:"method" validate:"required,min=1,max=64"`
	Config map[string]any `json:"config"`
}

type protectRequest struct {
	Plan []planStepDTO `json:"plan" validate:"required,min=1,dive"`
}

type protectResponse struct {
	ArtworkID int64  `json:"artwork_id"`
	Status    string `json:"status"`
	Steps     int    `json:"steps"`
}

func (a *App) ArtworkProtect(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	artworkID, ok := a.artworkID(w, r)
	if !ok {
		return
	}
	var req protectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	plan := make([]domain.PlanStep, len(req.Plan))
	for i, step := range req.Plan {
		plan[i] = domain.PlanStep{Method: step.Method, Config: step.Config}
	}

	art, err := a.Service.StartPipeline(r.Context(), artworkID, userID, plan)
	if err != nil {
		a.pipelineError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, protectResponse{
		ArtworkID: art.ID,
		Status:    string(art.ProtectionStatus),
		Steps:     len(plan),
	})
}

func (a *App) ArtworkCancel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	artworkID, ok := a.artworkID(w, r)
	if !ok {
		return
	}
	if err := a.Service.CancelPipeline(r.Context(), artworkID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "artwork not found")
			return
		}
		a.error(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": string(domain.ProtectionCanceled)})
}

func (a *App) ArtworkResume(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	artworkID, ok := a.artworkID(w, r)
	if !ok {
		return
	}
	if err := a.Service.ResumePipeline(r.Context(), artworkID, userID); err != nil {
		a.pipelineError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"status": "resumed"})
}

type stepDTO struct {
	StepOrder    int        `json:"step_order"`
	Method       string     `json:"method"`
	Status       string     `json:"status"`
	OutputURL    string     `json:"output_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type protectionStatusResponse struct {
	ArtworkID    int64     `json:"artwork_id"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CurrentStep  int       `json:"current_step"`
	TotalSteps   int       `json:"total_steps"`
	Steps        []stepDTO `json:"steps"`
}

func (a *App) ArtworkProtectionStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	artworkID, ok := a.artworkID(w, r)
	if !ok {
		return
	}
	art, err := a.Artworks.GetForUser(r.Context(), artworkID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "artwork not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load artwork")
		return
	}
	steps, err := a.Steps.ListForArtwork(r.Context(), art.ID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load steps")
		return
	}

	resp := protectionStatusResponse{
		ArtworkID:    art.ID,
		Status:       string(art.ProtectionStatus),
		ErrorMessage: art.ErrorMessage,
		Steps:        make([]stepDTO, 0, len(steps)),
	}
	if art.Pipeline != nil {
		resp.CurrentStep = art.Pipeline.CurrentStep
		resp.TotalSteps = len(art.Pipeline.Steps)
	}
	for _, step := range steps {
		resp.Steps = append(resp.Steps, stepDTO{
			StepOrder:    step.StepOrder,
			Method:       step.Method,
			Status:       string(step.Status),
			OutputURL:    step.OutputURL,
			ErrorMessage: step.ErrorMessage,
			CreatedAt:    step.CreatedAt,
			UpdatedAt:    step.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) artworkID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid artwork id")
		return 0, false
	}
	return id, true
}

func (a *App) pipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "artwork not found")
	case errors.Is(err, domain.ErrEmptyPlan):
		a.error(w, http.StatusBadRequest, "bad_request", "plan must contain at least one step")
	case errors.Is(err, domain.ErrPlanTooLong):
		a.error(w, http.StatusBadRequest, "bad_request", "plan exceeds the maximum number of steps")
	case errors.Is(err, domain.ErrTooManyPipelines):
		a.error(w, http.StatusTooManyRequests, "too_many_pipelines", "active pipeline limit reached")
	case protect.IsConfigurationError(err):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("pipeline request failed")
		a.error(w, http.StatusInternalServerError, "internal", "pipeline request failed")
	}
}
