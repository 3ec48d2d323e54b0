package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"artshield/internal/domain"
	"artshield/internal/infra"
	"artshield/internal/middleware"
	"artshield/internal/protect"
)

type App struct {
	Cfg      *infra.Config
	Logger   infra.Logger
	Service  *protect.Service
	Artworks domain.ArtworkRepository
	Steps    domain.StepRepository
	Ledger   domain.CreditLedger
	Validate *validator.Validate

	// Geo resolves client countries for request annotation; nil disables it.
	Geo middleware.CountryLookup
}

func NewApp(cfg *infra.Config, logger infra.Logger, svc *protect.Service, artworks domain.ArtworkRepository, steps domain.StepRepository, ledger domain.CreditLedger) *App {
	return &App{
		Cfg:      cfg,
		Logger:   logger,
		Service:  svc,
		Artworks: artworks,
		Steps:    steps,
		Ledger:   ledger,
		Validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
