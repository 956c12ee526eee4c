package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if a.Ping != nil {
		if err := a.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("health check: ledger unreachable")
			responseJSON(w, &APIResponse{
				Status:  "error",
				Message: "ledger unreachable",
			}, http.StatusServiceUnavailable)
			return
		}
	}
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}
