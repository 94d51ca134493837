package handlers

import "net/http"

// RunSweep triggers one sweep pass; an external scheduler calls it with the
// shared sweep token.
func (a *App) RunSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := a.Sweeper.RunSweep(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger(r).Info().Interface("summary", summary).Msg("sweep: triggered over http")
	a.json(w, http.StatusOK, summary)
}
