package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"coachhub/cmd/internal/messaging"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeCoreError maps a messaging error kind to an HTTP status.
func writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case messaging.IsValidation(err), messaging.IsInvalidParticipants(err):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case messaging.IsForbidden(err):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case messaging.IsPersistence(err), messaging.IsSubscription(err):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "storage unavailable, retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
