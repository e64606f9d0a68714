package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

// UserHeader names the caller on HTTP requests.
const UserHeader = "X-User"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *NotificationServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/notifications/poll", s.handlePoll)
	mux.HandleFunc("POST /v1/notifications/get", s.handleGet)
	mux.HandleFunc("POST /v1/notifications", s.handlePut)
	mux.HandleFunc("POST /v1/notifications/batch", s.handlePutBatch)
	mux.HandleFunc("GET /v1/notifications/stream", s.handleStream)
	mux.HandleFunc("GET /v1/topics/{topic}/delay", s.handleDelay)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, mux)
}

// handlePoll handles POST /v1/notifications/poll.
func (s *NotificationServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	var in model.PollRequest
	if !decodeBody(w, r, &in) {
		return
	}
	resp, err := s.Poll(r.Context(), &in, r.Header.Get(UserHeader))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGet handles POST /v1/notifications/get.
func (s *NotificationServer) handleGet(w http.ResponseWriter, r *http.Request) {
	var in model.PollRequest
	if !decodeBody(w, r, &in) {
		return
	}
	resp, err := s.Get(r.Context(), &in, r.Header.Get(UserHeader))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePut handles POST /v1/notifications.
func (s *NotificationServer) handlePut(w http.ResponseWriter, r *http.Request) {
	var in model.PutRequest
	if !decodeBody(w, r, &in) {
		return
	}
	resp, err := s.Put(r.Context(), &in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handlePutBatch handles POST /v1/notifications/batch.
func (s *NotificationServer) handlePutBatch(w http.ResponseWriter, r *http.Request) {
	var in model.BatchPutRequest
	if !decodeBody(w, r, &in) {
		return
	}
	resp, err := s.PutBatch(r.Context(), &in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleDelay handles GET /v1/topics/{topic}/delay.
func (s *NotificationServer) handleDelay(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Delay(r.PathValue("topic"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStats handles GET /v1/stats.
func (s *NotificationServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

// handleHealth handles GET /v1/health.
func (s *NotificationServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Health())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var ie inputError
	switch {
	case errors.As(err, &ie):
		writeError(w, http.StatusBadRequest, ie.Error())
	case errors.Is(err, errRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
