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

// Package socket implements the daemon's local control protocol: one
// newline-delimited JSON request per line over a Unix domain socket, with
// one newline-delimited JSON response (or, for subscribe_output, a stream
// of them) per request.
package socket

import (
	"bufio"
	"encoding/json"
	"errors"
	"log"
	"net"
	"os"

	"github.com/google/uuid"

	"github.com/dmvk/overseer"
)

// Request is one control socket command. Op selects which fields are
// meaningful; unused fields are left zero. Processes, Env, Filter, and
// Explicit are only meaningful for start_service and reload_service.
type Request struct {
	Op        string                       `json:"op"`
	Service   string                       `json:"service,omitempty"`
	Process   string                       `json:"process,omitempty"`
	Dir       string                       `json:"dir,omitempty"`
	Procfile  string                       `json:"procfile,omitempty"`
	Processes []overseer.ProcessDefinition `json:"processes,omitempty"`
	Env       map[string]string            `json:"env,omitempty"`
	// Filter selects which declared processes start: "all", "explicit"
	// (see Explicit), or anything else (including empty) for the default
	// of every process flagged autostart.
	Filter   string   `json:"filter,omitempty"`
	Explicit []string `json:"explicit,omitempty"`
}

func (req Request) startFilter() overseer.StartFilter {
	switch req.Filter {
	case "all":
		return overseer.AllProcesses()
	case "explicit":
		return overseer.ExplicitList(req.Explicit...)
	default:
		return overseer.AllAutostart()
	}
}

// Response is one control socket reply. At most one of Snapshots, Output,
// or Error is populated, depending on the request; a plain acknowledgement
// carries only OK.
type Response struct {
	OK        bool                       `json:"ok"`
	Error     string                     `json:"error,omitempty"`
	Snapshots []*overseer.ServiceSnapshot `json:"snapshots,omitempty"`
	Output    string                     `json:"output,omitempty"`
}

// Acceptor listens on a Unix domain socket and hands each connection to
// its own Handler goroutine.
type Acceptor struct {
	orch   *overseer.Orchestrator
	logger *log.Logger
	ln     net.Listener
}

// Listen removes any stale socket file at path and begins listening.
func Listen(path string, orch *overseer.Orchestrator, logger *log.Logger) (*Acceptor, error) {
	if logger == nil {
		logger = log.Default()
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Acceptor{orch: orch, logger: logger, ln: ln}, nil
}

// Serve accepts connections until the listener is closed.
func (a *Acceptor) Serve() {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			a.logger.Printf("socket: accept: %v", err)
			continue
		}
		h := &connHandler{id: uuid.NewString(), conn: conn, orch: a.orch, logger: a.logger}
		go h.run()
	}
}

// Close stops accepting new connections.
func (a *Acceptor) Close() error {
	return a.ln.Close()
}

type connHandler struct {
	id     string
	conn   net.Conn
	orch   *overseer.Orchestrator
	logger *log.Logger
}

func (h *connHandler) run() {
	defer h.conn.Close()
	scanner := bufio.NewScanner(h.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(h.conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			enc.Encode(Response{Error: "malformed request: " + err.Error()})
			continue
		}
		h.dispatch(req, enc)
	}
}

func (h *connHandler) dispatch(req Request, enc *json.Encoder) {
	h.logger.Printf("socket: conn %s: %s %s", h.id, req.Op, req.Service)
	switch req.Op {
	case "status":
		var names []string
		if req.Service != "" {
			names = []string{req.Service}
		}
		snaps, err := h.orch.Status(names...)
		if err != nil {
			enc.Encode(Response{Error: err.Error()})
			return
		}
		enc.Encode(Response{OK: true, Snapshots: snaps})

	case "start_service":
		snap, err := h.orch.StartService(req.Service, req.Dir, req.Processes, req.Env, req.startFilter(), req.Procfile)
		if err != nil {
			enc.Encode(Response{Error: err.Error()})
			return
		}
		enc.Encode(Response{OK: true, Snapshots: []*overseer.ServiceSnapshot{snap}})

	case "stop_service":
		if err := h.orch.StopService(req.Service); err != nil {
			enc.Encode(Response{Error: err.Error()})
			return
		}
		enc.Encode(Response{OK: true})

	case "reload_service":
		snap, err := h.orch.ReloadService(req.Service, req.Dir, req.Processes, req.Env, req.startFilter(), req.Procfile)
		if err != nil {
			enc.Encode(Response{Error: err.Error()})
			return
		}
		enc.Encode(Response{OK: true, Snapshots: []*overseer.ServiceSnapshot{snap}})

	case "restart_process":
		if err := h.orch.RestartProcess(req.Service, req.Process); err != nil {
			enc.Encode(Response{Error: err.Error()})
			return
		}
		enc.Encode(Response{OK: true})

	case "kill_process":
		if err := h.orch.KillProcess(req.Service, req.Process); err != nil {
			enc.Encode(Response{Error: err.Error()})
			return
		}
		enc.Encode(Response{OK: true})

	case "get_output_snapshot":
		out, err := h.orch.GetOutput(req.Service, req.Process)
		if err != nil {
			enc.Encode(Response{Error: err.Error()})
			return
		}
		enc.Encode(Response{OK: true, Output: string(out)})

	case "subscribe_output":
		h.streamOutput(req, enc)

	default:
		enc.Encode(Response{Error: "unknown op " + req.Op})
	}
}

// streamOutput sends the current snapshot as one response, then one
// response per subsequent write, until the connection is closed by the
// peer. Unlike every other op, this one does not return after a single
// Encode.
func (h *connHandler) streamOutput(req Request, enc *json.Encoder) {
	snap, ch, err := h.orch.SubscribeOutput(req.Service, req.Process)
	if err != nil {
		enc.Encode(Response{Error: err.Error()})
		return
	}
	defer h.orch.UnsubscribeOutput(req.Service, req.Process, ch)
	if err := enc.Encode(Response{OK: true, Output: string(snap)}); err != nil {
		return
	}
	for data := range ch {
		if err := enc.Encode(Response{OK: true, Output: string(data)}); err != nil {
			return
		}
	}
}
