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

package overseer

import (
	"sync"
	"time"
)

// Registry is the thread-safe map of service name to Managed Service. All
// mutations serialize behind a single exclusive lock held only long enough
// to mutate the structure; long operations (spawning, waiting on a child)
// must never be performed while holding it.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*ManagedService
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*ManagedService)}
}

// insert adds svc under its name. Inserting over an existing entry is
// permitted only when every process of the existing entry is terminal; in
// that case the old entry is replaced outright.
func (r *Registry) insert(svc *ManagedService) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.services[svc.name]; ok {
		for _, p := range existing.processes {
			if !p.state.Terminal() {
				return newError(AlreadyRunning, svc.name, "", "service already running", nil)
			}
		}
	}
	r.services[svc.name] = svc
	return nil
}

// remove deletes name from the Registry. Removing a service while any of
// its processes is non-terminal is disallowed.
func (r *Registry) remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[name]
	if !ok {
		return newError(NotFound, name, "", "service not found", nil)
	}
	for _, p := range svc.processes {
		if !p.state.Terminal() {
			return newError(InvalidDefinition, name, p.def.Name, "process still running", nil)
		}
	}
	delete(r.services, name)
	return nil
}

// get returns the Managed Service for name, without copying it -- callers
// within this package may read its process handles, but must never retain
// them past the Registry lock region for anything but supervision
// bookkeeping.
func (r *Registry) get(name string) (*ManagedService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// updateState performs an atomic state transition on one Managed Process.
// This is the only writer of ManagedProcess.state in the whole engine.
func (r *Registry) updateState(service, process string, newState ProcessState, pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[service]
	if !ok {
		return
	}
	p, ok := svc.process(process)
	if !ok {
		return
	}
	p.state = newState
	if pid != 0 {
		p.pid = pid
	}
	if newState == Running {
		p.startTime = time.Now()
	}
}

// setPgid records the process group id of a freshly spawned child. Written
// by the same Runner goroutine that calls updateState for the transition to
// Running, under the same lock, since Status reads it concurrently.
func (r *Registry) setPgid(service, process string, pgid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[service]
	if !ok {
		return
	}
	p, ok := svc.process(process)
	if !ok {
		return
	}
	p.pgid = pgid
}

// recordExit stores the exit code of a just-completed spawn.
func (r *Registry) recordExit(service, process string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[service]
	if !ok {
		return
	}
	p, ok := svc.process(process)
	if !ok {
		return
	}
	p.lastExitCode = code
	p.haveExitCode = true
}

// restartCount returns the current restart counter for one process.
func (r *Registry) restartCount(service, process string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[service]
	if !ok {
		return 0
	}
	p, ok := svc.process(process)
	if !ok {
		return 0
	}
	return p.restartCount
}

// incrementRestart bumps the restart counter and returns its new value.
func (r *Registry) incrementRestart(service, process string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[service]
	if !ok {
		return 0
	}
	p, ok := svc.process(process)
	if !ok {
		return 0
	}
	p.restartCount++
	return p.restartCount
}

// resetRestart zeroes the restart counter and clears the last exit code,
// as happens on an explicit start, restart, or reload.
func (r *Registry) resetRestart(service, process string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[service]
	if !ok {
		return
	}
	p, ok := svc.process(process)
	if !ok {
		return
	}
	p.restartCount = 0
	p.haveExitCode = false
}

// snapshot returns the live Managed Service handles held by the Registry.
// It is intentionally shallow -- deep, handle-free copies for external
// reporting are built by snapshotOne, which callers must use instead of
// reading ManagedProcess fields directly.
func (r *Registry) snapshot() []*ManagedService {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ManagedService, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	return out
}

// snapshotOne builds a deep, handle-free copy of svc's current state under
// the Registry's read lock -- the only safe way to read ManagedProcess
// fields from outside the owning Runner goroutine. It returns the process
// group id of every process alongside the snapshot, in the same
// order as snap.Processes, so callers can resolve ports afterward without
// holding the lock during that I/O.
func (r *Registry) snapshotOne(svc *ManagedService) (*ServiceSnapshot, []int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &ServiceSnapshot{Name: svc.name, Dir: svc.dir}
	pgids := make([]int, 0, len(svc.processes))
	for _, p := range svc.processes {
		ps := ProcessSnapshot{
			Name:         p.def.Name,
			State:        p.state,
			PID:          p.pid,
			RestartCount: p.restartCount,
			LastExitCode: p.lastExitCode,
			HasExitCode:  p.haveExitCode,
		}
		if p.state == Running {
			ps.UptimeSecs = time.Since(p.startTime).Seconds()
			snap.Running = true
		}
		snap.Processes = append(snap.Processes, ps)
		pgids = append(pgids, p.pgid)
	}
	return snap, pgids
}
