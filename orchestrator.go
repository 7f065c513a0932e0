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

// Orchestrator is the entry point applications and the external
// interfaces (control socket, HTTP façade) drive to manage services. It
// owns a Registry plus one dedicated mutex per service name, serialized
// so that start/stop/restart/kill of a given service never interleave,
// while unrelated services proceed concurrently. ReloadService takes that
// mutex separately for its stop and for its start, so another operation
// on the same service can run between the two.
//
// Lock ordering is always: a service's dedicated mutex, then (briefly,
// inside Registry methods) the Registry's own lock. Never the reverse.
type Orchestrator struct {
	reg        *Registry
	logRoot    string
	maxLogSize int64
	grace      time.Duration
	logger     *MultiLogger

	svcMu    sync.Mutex
	svcLocks map[string]*sync.Mutex
}

// NewOrchestrator returns an Orchestrator backed by reg. logRoot is the
// directory under which per-service log subdirectories are created; an
// empty logRoot disables on-disk logging and keeps output in memory only.
func NewOrchestrator(reg *Registry, logRoot string, maxLogSize int64, grace time.Duration, logger *MultiLogger) *Orchestrator {
	if logger == nil {
		logger = NewMultiLogger()
	}
	return &Orchestrator{
		reg:        reg,
		logRoot:    logRoot,
		maxLogSize: maxLogSize,
		grace:      grace,
		logger:     logger,
		svcLocks:   make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) lockFor(name string) *sync.Mutex {
	o.svcMu.Lock()
	defer o.svcMu.Unlock()
	m, ok := o.svcLocks[name]
	if !ok {
		m = &sync.Mutex{}
		o.svcLocks[name] = m
	}
	return m
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	o.logger.Logger().Printf(format, args...)
}

// StartService declares and launches a new Managed Service named name,
// rooted at dir, with the given process declarations. filter selects
// which of those declarations are actually spawned; the rest are recorded
// but left Stopped until a future RestartProcess or ReloadService.
//
// StartService fails with AlreadyRunning if a service by this name
// already has a non-terminal process.
func (o *Orchestrator) StartService(name, dir string, defs []ProcessDefinition, extraEnv map[string]string, filter StartFilter, procfile string) (*ServiceSnapshot, error) {
	lock := o.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	svc := &ManagedService{
		name:     name,
		dir:      dir,
		extraEnv: extraEnv,
		byName:   make(map[string]*ManagedProcess),
		procfile: procfile,
	}
	for _, def := range defs {
		p := &ManagedProcess{
			def:    def,
			state:  Stopped,
			output: NewOutputCapture(o.logRoot, name, def.Name, o.maxLogSize),
			cancel: make(chan struct{}),
			done:   make(chan struct{}),
		}
		close(p.done) // not yet running; requestCancel/RestartProcess replace this
		svc.processes = append(svc.processes, p)
		svc.byName[def.Name] = p
	}

	if err := o.reg.insert(svc); err != nil {
		return nil, err
	}

	for _, p := range svc.processes {
		if !filter.includes(p.def) {
			continue
		}
		o.spawnRunner(svc, p)
	}

	o.logf("started service %s (%d processes)", name, len(svc.processes))
	return o.snapshotService(svc), nil
}

// spawnRunner installs a fresh cancel/done pair on p, marks it Starting,
// and starts its runner goroutine. Marking it before the goroutine runs
// means a concurrent StartService on the same name already sees a
// non-terminal process. Callers must hold the service's dedicated lock.
func (o *Orchestrator) spawnRunner(svc *ManagedService, p *ManagedProcess) {
	p.cancel = make(chan struct{})
	p.cancelOnce = sync.Once{}
	p.done = make(chan struct{})
	o.reg.updateState(svc.name, p.def.Name, Starting, 0)
	r := newRunner(o.reg, svc.name, svc.dir, svc.extraEnv, p, o.grace)
	go r.run()
}

// StopService requests cancellation of every non-terminal process in name,
// waits for each to reach a terminal state, and then removes the service
// from the Registry. Processes that fail to terminate within the runner's
// own grace-plus-kill window are reported by name in a StopTimeout error;
// StopService still returns once every process has been given the chance
// to exit (it does not hang forever), and in that case the service is left
// in the Registry rather than removed, since a non-terminal process cannot
// be removed. A second StopService on an already-stopped name returns
// NotFound, since the first call's success path removed the entry.
func (o *Orchestrator) StopService(name string) error {
	lock := o.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	svc, ok := o.reg.get(name)
	if !ok {
		return newError(NotFound, name, "", "service not found", nil)
	}

	var timedOut []string
	deadline := o.grace + 5*time.Second

	// requestCancel and done are safe to use unconditionally regardless of
	// a process's current state: requestCancel is idempotent, and a
	// process that is already terminal has already closed done. Reading
	// p.state directly here would race with the Registry-guarded writes
	// in updateState.
	for _, p := range svc.processes {
		p.requestCancel()
	}
	for _, p := range svc.processes {
		select {
		case <-p.done:
		case <-time.After(deadline):
			timedOut = append(timedOut, p.def.Name)
		}
	}

	if len(timedOut) > 0 {
		o.logf("stop of service %s timed out waiting for %v", name, timedOut)
		return &Error{Kind: StopTimeout, Service: name, Message: "processes did not terminate in time", Timeout: timedOut}
	}

	if err := o.reg.remove(name); err != nil {
		return err
	}
	for _, p := range svc.processes {
		p.output.Close()
	}
	o.logf("stopped service %s", name)
	return nil
}

// ReloadService replaces a service's definitions in place: it stops the
// existing instance (which also removes it from the Registry) and starts a
// fresh one under the same name with the new definitions. A failed start
// after a successful stop leaves the service absent from the Registry
// rather than half-migrated; callers must StartService again explicitly.
func (o *Orchestrator) ReloadService(name, dir string, defs []ProcessDefinition, extraEnv map[string]string, filter StartFilter, procfile string) (*ServiceSnapshot, error) {
	if err := o.StopService(name); err != nil {
		return nil, err
	}

	o.logf("reloading service %s", name)
	return o.StartService(name, dir, defs, extraEnv, filter, procfile)
}

// RestartProcess cancels and rejoins one process, then respawns it with
// its restart counter reset to zero, regardless of the policy that would
// otherwise have governed a crash-triggered respawn.
func (o *Orchestrator) RestartProcess(service, process string) error {
	lock := o.lockFor(service)
	lock.Lock()
	defer lock.Unlock()

	svc, ok := o.reg.get(service)
	if !ok {
		return newError(NotFound, service, "", "service not found", nil)
	}
	p, ok := svc.process(process)
	if !ok {
		return newError(NotFound, service, process, "process not found", nil)
	}

	// See StopService for why this is unconditional rather than gated on
	// a direct, unlocked read of p.state.
	p.requestCancel()
	<-p.done
	o.reg.resetRestart(service, process)
	o.spawnRunner(svc, p)
	o.logf("restarted process %s/%s", service, process)
	return nil
}

// KillProcess cancels one process without a subsequent relaunch, leaving
// it Stopped -- the Runner's own cancellation path performs that
// transition. The Managed Service entry remains in the Registry; a
// following RestartProcess can re-animate the process with a fresh PID.
// Unlike RestartProcess, the restart counter is left untouched.
func (o *Orchestrator) KillProcess(service, process string) error {
	lock := o.lockFor(service)
	lock.Lock()
	defer lock.Unlock()

	svc, ok := o.reg.get(service)
	if !ok {
		return newError(NotFound, service, "", "service not found", nil)
	}
	p, ok := svc.process(process)
	if !ok {
		return newError(NotFound, service, process, "process not found", nil)
	}
	// See StopService for why this is unconditional rather than gated on
	// a direct, unlocked read of p.state; a process already terminal has
	// already closed done, so this returns immediately as a no-op.
	p.requestCancel()
	<-p.done
	o.logf("killed process %s/%s", service, process)
	return nil
}

// Status returns a deep, handle-free snapshot of every named service, or
// of every service in the Registry when names is empty.
func (o *Orchestrator) Status(names ...string) ([]*ServiceSnapshot, error) {
	var services []*ManagedService
	if len(names) == 0 {
		services = o.reg.snapshot()
	} else {
		for _, n := range names {
			svc, ok := o.reg.get(n)
			if !ok {
				return nil, newError(NotFound, n, "", "service not found", nil)
			}
			services = append(services, svc)
		}
	}

	out := make([]*ServiceSnapshot, 0, len(services))
	for _, svc := range services {
		out = append(out, o.snapshotService(svc))
	}
	return out, nil
}

// snapshotService builds a deep, handle-free copy of svc. The copy itself
// is taken atomically under the Registry's read lock (via snapshotOne);
// port introspection, which performs its own bounded /proc I/O, runs
// afterward using the pgid values captured under that lock, so the
// Registry lock is never held across it.
func (o *Orchestrator) snapshotService(svc *ManagedService) *ServiceSnapshot {
	snap, pgids := o.reg.snapshotOne(svc)
	for i := range snap.Processes {
		if snap.Processes[i].State == Running {
			snap.Processes[i].Ports = ListeningPorts(pgids[i])
		}
	}
	return snap
}

// GetOutput returns the current in-memory ring for one process.
func (o *Orchestrator) GetOutput(service, process string) ([]byte, error) {
	svc, ok := o.reg.get(service)
	if !ok {
		return nil, newError(NotFound, service, "", "service not found", nil)
	}
	p, ok := svc.process(process)
	if !ok {
		return nil, newError(NotFound, service, process, "process not found", nil)
	}
	return p.output.Snapshot(), nil
}

// SubscribeOutput returns the current ring plus a live channel of
// subsequent output for one process, per OutputCapture.Subscribe.
func (o *Orchestrator) SubscribeOutput(service, process string) ([]byte, <-chan []byte, error) {
	svc, ok := o.reg.get(service)
	if !ok {
		return nil, nil, newError(NotFound, service, "", "service not found", nil)
	}
	p, ok := svc.process(process)
	if !ok {
		return nil, nil, newError(NotFound, service, process, "process not found", nil)
	}
	snap, ch := p.output.Subscribe()
	return snap, ch, nil
}

// UnsubscribeOutput ends a subscription obtained from SubscribeOutput.
// Callers must call this once they stop draining ch, or the subscription
// leaks for the process's lifetime.
func (o *Orchestrator) UnsubscribeOutput(service, process string, ch <-chan []byte) {
	svc, ok := o.reg.get(service)
	if !ok {
		return
	}
	p, ok := svc.process(process)
	if !ok {
		return
	}
	p.output.Unsubscribe(ch)
}
