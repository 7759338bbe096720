// Package api exposes the HTTP and WebSocket surface. Handlers only
// translate requests into machine intents and snapshots into JSON; all
// state lives in the lifecycle machine.
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"buttonlink/internal/lifecycle"
	"buttonlink/internal/view"
)

type Handler struct {
	machine *lifecycle.Machine
	wsHub   *Hub
	version string
}

func NewHandler(machine *lifecycle.Machine, hub *Hub) *Handler {
	return &Handler{machine: machine, wsHub: hub}
}

func (h *Handler) SetVersion(v string) { h.version = v }

// RegisterRoutes wires all endpoints onto mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.HandleStatus)
	mux.HandleFunc("/api/devices", h.HandleDevices)
	mux.HandleFunc("/api/devices/", h.HandleDeviceConnect)
	mux.HandleFunc("/api/start", h.HandleStart)
	mux.HandleFunc("/api/led/toggle", h.HandleLEDToggle)
	mux.HandleFunc("/api/button/read", h.HandleButtonRead)
	mux.HandleFunc("/api/disconnect", h.HandleDisconnect)
	mux.HandleFunc("/api/forget", h.HandleForget)
	mux.HandleFunc("/ws", h.HandleWebSocket)
}

type StatusResponse struct {
	Version string    `json:"version,omitempty"`
	State   view.View `json:"state"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{
		Version: h.version,
		State:   view.Project(h.machine.Snapshot()),
	}
	writeJSON(w, resp)
}

func (h *Handler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v := view.Project(h.machine.Snapshot())
	writeJSON(w, map[string]interface{}{
		"devices":  v.Devices,
		"scanning": v.IsScanning,
	})
}

// HandleDeviceConnect serves POST /api/devices/{id}/connect.
func (h *Handler) HandleDeviceConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "connect" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	h.machine.SelectDevice(parts[0])
	writeJSON(w, map[string]string{"status": "connecting"})
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.machine.RequestStart()
	writeJSON(w, map[string]string{"status": "started"})
}

func (h *Handler) HandleLEDToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.machine.ToggleLED()
	writeJSON(w, map[string]string{"status": "toggling"})
}

func (h *Handler) HandleButtonRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.machine.ReadButton()
	writeJSON(w, map[string]string{"status": "reading"})
}

func (h *Handler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.machine.Disconnect()
	writeJSON(w, map[string]string{"status": "disconnecting"})
}

func (h *Handler) HandleForget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.machine.Forget()
	writeJSON(w, map[string]string{"status": "forgotten"})
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleConnection(w, r)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
