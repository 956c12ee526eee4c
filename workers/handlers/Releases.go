package handlers

import (
	"net/http"

	"anchorebridge/types"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog/log"
)

func (a *API) GetRelease(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Releases.Get(r.Context(), chi.URLParam(r, "nonce"))
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, releaseView(rec), http.StatusOK)
}

// RetryRelease re-runs a failed release on operator request
func (a *API) RetryRelease(w http.ResponseWriter, r *http.Request) {
	nonce := chi.URLParam(r, "nonce")
	rec, err := a.Operator.Retry(r.Context(), nonce)
	if err != nil {
		log.Warn().Err(err).Str("nonce", nonce).Msg("operator retry refused")
		responseError(w, err)
		return
	}
	responseJSON(w, releaseView(rec), http.StatusOK)
}

func (a *API) GetFailedReleases(w http.ResponseWriter, r *http.Request) {
	a.listReleases(w, r, types.StatusFailed)
}

func (a *API) GetPendingReleases(w http.ResponseWriter, r *http.Request) {
	a.listReleases(w, r, types.StatusPending)
}

func (a *API) GetDispatchedReleases(w http.ResponseWriter, r *http.Request) {
	a.listReleases(w, r, types.StatusDispatched)
}

func (a *API) listReleases(w http.ResponseWriter, r *http.Request, status types.ReleaseStatus) {
	recs, err := a.Releases.ListByStatus(r.Context(), status)
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("cannot list releases")
		responseError(w, err)
		return
	}

	out := make([]APIRelease, 0, len(recs))
	for _, rec := range recs {
		out = append(out, releaseView(rec))
	}
	responseJSON(w, out, http.StatusOK)
}
