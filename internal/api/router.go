package api

import "net/http"

// NewRouter registers the lifecycle endpoints.
func NewRouter(handlers *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/on", handlers.OnHandler)
	mux.HandleFunc("/off", handlers.OffHandler)
	mux.HandleFunc("/status", handlers.StatusHandler)
	mux.HandleFunc("/tick", handlers.TickHandler)
	return mux
}
