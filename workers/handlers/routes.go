package handlers

import "github.com/go-chi/chi"

func (a *API) Mount(r chi.Router) {
	r.Get("/state", a.State)
	r.Get("/health", a.HealthCheck)

	r.Get("/releases/{nonce}", a.GetRelease)
	r.Post("/releases/{nonce}/retry", a.RetryRelease)
	r.Post("/submit/deposit", a.SubmitDeposit)

	r.Get("/stats/failed", a.GetFailedReleases)
	r.Get("/stats/pending", a.GetPendingReleases)
	r.Get("/stats/dispatched", a.GetDispatchedReleases)
}
