package api

import "net/http"

// NewServer returns the HTTP handler serving the REST API.
func NewServer(h *Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/kinds", h.GetKinds)
	mux.HandleFunc("GET /api/devices", h.GetDevices)
	mux.HandleFunc("POST /api/devices", h.AddDevice)
	mux.HandleFunc("GET /api/devices/{ip}/{port}", h.GetDevice)
	mux.HandleFunc("DELETE /api/devices/{ip}/{port}", h.RemoveDevice)
	mux.HandleFunc("POST /api/devices/{ip}/{port}/start", h.StartDevice)
	mux.HandleFunc("POST /api/devices/{ip}/{port}/stop", h.StopDevice)
	mux.HandleFunc("GET /api/devices/{ip}/{port}/window", h.GetWindow)
	mux.HandleFunc("GET /api/devices/{ip}/{port}/history", h.GetHistory)
	mux.HandleFunc("GET /api/devices/{ip}/{port}/export", h.ExportHistory)
	mux.HandleFunc("GET /api/events", h.HandleSSE)

	return mux
}
