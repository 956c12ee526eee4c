package handlers

import (
	"net/http"
)

func (a *API) State(w http.ResponseWriter, r *http.Request) {
	watcher := "unknown"
	if a.WatcherState != nil {
		watcher = a.WatcherState()
	}
	responseJSON(w, &APIStateResponse{
		Status:  "ok",
		Message: "relay running",
		Watcher: watcher,
	}, http.StatusOK)
}
