package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pv/poleko-monitor-go/internal/device"
	"github.com/pv/poleko-monitor-go/internal/export"
	"github.com/pv/poleko-monitor-go/internal/logger"
	"github.com/pv/poleko-monitor-go/internal/monitor"
	"github.com/pv/poleko-monitor-go/internal/poller"
	"github.com/pv/poleko-monitor-go/internal/storage"
)

// defaultHistorySpan is used when a history request omits from.
const defaultHistorySpan = time.Hour

type Handlers struct {
	manager *monitor.Manager
	catalog *device.Catalog
	hub     *SSEHub
}

func NewHandlers(manager *monitor.Manager, catalog *device.Catalog, hub *SSEHub) *Handlers {
	if hub == nil {
		hub = NewSSEHub()
	}
	return &Handlers{
		manager: manager,
		catalog: catalog,
		hub:     hub,
	}
}

// GetSSEHub returns the hub events are broadcast through.
func (h *Handlers) GetSSEHub() *SSEHub {
	return h.hub
}

func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) writeJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeFailure maps domain errors onto HTTP status codes.
func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, monitor.ErrUnknownDevice), errors.Is(err, storage.ErrDeviceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, monitor.ErrDeviceExists), errors.Is(err, poller.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, device.ErrUnknownKind), errors.Is(err, device.ErrFixedRefresh),
		errors.Is(err, monitor.ErrNotBindable):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	}
	h.writeError(w, status, err.Error())
}

func (h *Handlers) endpoint(w http.ResponseWriter, r *http.Request) (device.Endpoint, bool) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid port")
		return device.Endpoint{}, false
	}
	ep, err := device.ParseEndpoint(r.PathValue("ip"), port)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return device.Endpoint{}, false
	}
	return ep, true
}

// KindInfo describes a registered device kind.
type KindInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Table       string `json:"table,omitempty"`
}

// GetKinds возвращает список поддерживаемых типов устройств
// GET /api/kinds
func (h *Handlers) GetKinds(w http.ResponseWriter, r *http.Request) {
	kinds := h.catalog.Kinds()
	out := make([]KindInfo, 0, len(kinds))
	for _, k := range kinds {
		info := KindInfo{Name: k.Name, Description: k.Description}
		if k.Table != nil {
			info.Table = k.Table.TableName()
		}
		out = append(out, info)
	}
	h.writeJSON(w, map[string]interface{}{"kinds": out})
}

// GetDevices возвращает состояние всех устройств
// GET /api/devices
func (h *Handlers) GetDevices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]interface{}{
		"devices": h.manager.Status(),
	})
}

// AddDeviceRequest is the body of POST /api/devices.
type AddDeviceRequest struct {
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Kind    string `json:"kind"`
	Label   string `json:"label,omitempty"`
	Refresh string `json:"refresh,omitempty"`
	Start   bool   `json:"start,omitempty"`
}

// AddDevice регистрирует новое устройство
// POST /api/devices
func (h *Handlers) AddDevice(w http.ResponseWriter, r *http.Request) {
	var req AddDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ep, err := device.ParseEndpoint(req.IP, req.Port)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info := device.Info{Endpoint: ep, Label: req.Label, Kind: req.Kind}
	if req.Refresh != "" {
		d, err := time.ParseDuration(req.Refresh)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid refresh %q", req.Refresh))
			return
		}
		info.Refresh = d
	}

	dev, err := h.catalog.Build(info)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	u, err := h.manager.Add(r.Context(), dev)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	if req.Start {
		if err := u.Start(); err != nil {
			h.writeFailure(w, err)
			return
		}
	}

	h.writeJSONStatus(w, http.StatusCreated, u.Status())
}

// GetDevice возвращает состояние одного устройства
// GET /api/devices/{ip}/{port}
func (h *Handlers) GetDevice(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	u, err := h.manager.Get(ep)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, u.Status())
}

// RemoveDevice останавливает и удаляет устройство вместе с его измерениями
// DELETE /api/devices/{ip}/{port}
func (h *Handlers) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	if err := h.manager.Remove(r.Context(), ep); err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "removed", "device": ep.String()})
}

// StartDevice запускает опрос устройства
// POST /api/devices/{ip}/{port}/start
func (h *Handlers) StartDevice(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	if err := h.manager.Start(ep); err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "started", "device": ep.String()})
}

// StopDevice останавливает опрос и сохраняет накопленные измерения
// POST /api/devices/{ip}/{port}/stop
func (h *Handlers) StopDevice(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	if err := h.manager.Stop(r.Context(), ep); err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "stopped", "device": ep.String()})
}

// GetWindow возвращает измерения из буфера устройства
// GET /api/devices/{ip}/{port}/window
func (h *Handlers) GetWindow(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	u, err := h.manager.Get(ep)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, map[string]interface{}{
		"device":   ep.String(),
		"readings": u.Window(),
	})
}

// GetHistory возвращает сохранённые измерения за период
// GET /api/devices/{ip}/{port}/history?from=...&to=...
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.manager.Get(ep)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	items, err := u.History(r.Context(), from, to)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	h.writeJSON(w, map[string]interface{}{
		"device":   ep.String(),
		"from":     from.UTC(),
		"to":       to.UTC(),
		"readings": items,
	})
}

// ExportHistory выгружает сохранённые измерения в CSV или JSON
// GET /api/devices/{ip}/{port}/export?format=csv&from=...&to=...
func (h *Handlers) ExportHistory(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := h.manager.Get(ep)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	var buf bytes.Buffer
	if err := u.Export(r.Context(), &buf, format, from, to); err != nil {
		h.writeFailure(w, err)
		return
	}

	filename := fmt.Sprintf("%s_%s_%d.%s", u.Info().Kind, ep.IP, ep.Port, format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(buf.Bytes())
}

// parseRange reads RFC3339 from/to query parameters. Missing to means now,
// missing from means one hour before to.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	to := time.Now()
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to, expected RFC3339")
		}
		to = t
	}
	from := to.Add(-defaultHistorySpan)
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from, expected RFC3339")
		}
		from = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from is after to")
	}
	return from, to, nil
}

// HandleSSE отдаёт поток событий
// GET /api/events?device=ip:port
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	filter := r.URL.Query().Get("device")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := h.hub.AddClient(filter)
	defer h.hub.RemoveClient(client)

	writeSSE(w, "connected", map[string]interface{}{
		"devices": h.manager.Len(),
		"filter":  filter,
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-client.events:
			writeSSE(w, ev.Type, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		logger.Warn("SSE marshal failed", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
