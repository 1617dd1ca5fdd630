package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"reelrelay/services/resolver"
	"reelrelay/utils"
)

// ErrInvalidInput marks request payloads that can never succeed.
var ErrInvalidInput = errors.New("invalid input")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// inputMessage turns extractor errors into the message shown to the client.
func inputMessage(err error) string {
	switch {
	case errors.Is(err, utils.ErrEmptyURL):
		return "URL is required"
	case errors.Is(err, utils.ErrUnsupportedURL), errors.Is(err, utils.ErrNoShortcode):
		return "Invalid Instagram URL"
	case errors.Is(err, utils.ErrInvalidShortcode):
		return "Invalid shortcode"
	default:
		return "Invalid request"
	}
}

// resolutionMessage describes an exhausted resolution without exposing provider internals.
func resolutionMessage(err error) string {
	return "Could not fetch media info. " + resolver.Hint(err)
}

// streamStatus maps a stream-route failure to its HTTP status.
func streamStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, resolver.ErrResolutionFailed):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
