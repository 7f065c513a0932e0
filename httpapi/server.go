// Copyright 2024 The Overseer Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpapi exposes the Service Orchestrator over HTTP: JSON
// snapshot and mutation endpoints, a WebSocket output stream, and a
// Prometheus scrape endpoint.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmvk/overseer"
)

const mimeJSON = "application/json; charset=UTF-8"

// Handler wraps an Orchestrator with http.Handler.
type Handler struct {
	orch    *overseer.Orchestrator
	metrics *overseer.Metrics
	router  *mux.Router
	upgrade websocket.Upgrader
}

// apiError is the JSON body written on any non-2xx response.
type apiError struct {
	Message string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", mimeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if overseer.IsKind(err, overseer.NotFound) {
		status = http.StatusNotFound
	} else if overseer.IsKind(err, overseer.AlreadyRunning) || overseer.IsKind(err, overseer.InvalidDefinition) {
		status = http.StatusBadRequest
	} else if overseer.IsKind(err, overseer.StopTimeout) {
		status = http.StatusGatewayTimeout
	}
	h.writeJSON(w, status, apiError{Message: err.Error()})
}

func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.orch.Status()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snaps)
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]
	snaps, err := h.orch.Status(name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snaps[0])
}

func (h *Handler) stopService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["service"]
	if err := h.orch.StopService(name); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) restartProcess(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.orch.RestartProcess(vars["service"], vars["process"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) killProcess(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.orch.KillProcess(vars["service"], vars["process"]); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) getOutput(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	out, err := h.orch.GetOutput(vars["service"], vars["process"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.Write(out)
}

// wsEcho streams live output for {service}.{process} over a WebSocket, one
// text frame per underlying Write. A bare {service} target is also
// accepted when that service declares exactly one process, which that
// process is then taken to mean.
func (h *Handler) wsEcho(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["target"]
	service, process := target, ""
	if idx := strings.LastIndexByte(target, '.'); idx >= 0 {
		service, process = target[:idx], target[idx+1:]
	}
	if process == "" {
		snaps, err := h.orch.Status(service)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if len(snaps[0].Processes) != 1 {
			h.writeError(w, &overseer.Error{Kind: overseer.InvalidDefinition, Service: service, Message: "service has more than one process; use service.process"})
			return
		}
		process = snaps[0].Processes[0].Name
	}

	snap, ch, err := h.orch.SubscribeOutput(service, process)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer h.orch.UnsubscribeOutput(service, process, ch)

	conn, err := h.upgrade.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if len(snap) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, snap); err != nil {
			return
		}
	}
	for data := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// NewHandler builds the full route table over orch. metrics may be nil,
// in which case /metrics is not registered.
func NewHandler(orch *overseer.Orchestrator, metrics *overseer.Metrics) *Handler {
	h := &Handler{orch: orch, metrics: metrics, router: mux.NewRouter()}
	h.upgrade = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

	h.router.HandleFunc("/services", h.listServices).Methods("GET")
	h.router.HandleFunc("/services/{service}", h.getService).Methods("GET")
	h.router.HandleFunc("/services/{service}/stop", h.stopService).Methods("POST")
	h.router.HandleFunc("/services/{service}/processes/{process}/restart", h.restartProcess).Methods("POST")
	h.router.HandleFunc("/services/{service}/processes/{process}/kill", h.killProcess).Methods("POST")
	h.router.HandleFunc("/services/{service}/processes/{process}/output", h.getOutput).Methods("GET")
	h.router.HandleFunc("/ws/echo/{target}", h.wsEcho)

	if metrics != nil {
		h.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}
	return h
}
