package handlers

import (
	"crypto/subtle"
	"net/http"
)

// SchedulerTick runs one orchestrator tick on demand. External cron services
// hit this with the shared token; the scheduler binary calls the same service
// method in-process.
func (a *App) SchedulerTick(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Scheduler-Token")
	if a.Cfg.SchedulerToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.Cfg.SchedulerToken)) != 1 {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid scheduler token")
		return
	}
	res := a.Service.RunTick(r.Context())
	a.json(w, http.StatusOK, res)
}
