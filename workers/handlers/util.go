package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"anchorebridge/ledger"
	"anchorebridge/types"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func responseError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, types.ErrNotFinal):
		code = http.StatusTooEarly
	case errors.Is(err, types.ErrInvalidRequest), errors.Is(err, ledger.ErrInvalidRecord):
		code = http.StatusBadRequest
	}
	responseJSON(w, &APIResponse{
		Status:  "error",
		Message: err.Error(),
	}, code)
}
