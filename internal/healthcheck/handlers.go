package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthHandler serves /healthz responses. With a non-positive tick interval
// the watchdog is driven externally: the status is always 200 and the body
// reflects the last tick run through POST /tick, if any.
func HealthHandler(tracker *Tracker, tickInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tickInterval <= 0 {
			writeJSON(w, http.StatusOK, tracker.Snapshot())
			return
		}
		status := http.StatusServiceUnavailable
		if tracker.Healthy(time.Now().UTC(), tickInterval) {
			status = http.StatusOK
		}
		writeJSON(w, status, tracker.Snapshot())
	}
}

// ReadyHandler serves /readyz responses.
func ReadyHandler(tracker *Tracker, tickInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusServiceUnavailable
		if tickInterval <= 0 || tracker.Ready() {
			status = http.StatusOK
		}
		writeJSON(w, status, tracker.Snapshot())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload Snapshot) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
