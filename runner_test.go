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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func newTestRunner(def ProcessDefinition) *runner {
	proc := &ManagedProcess{
		def:    def,
		output: NewOutputCapture("", "svc", def.Name, 0),
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	reg := NewRegistry()
	svc := &ManagedService{
		name:      "svc",
		processes: []*ManagedProcess{proc},
		byName:    map[string]*ManagedProcess{def.Name: proc},
	}
	reg.insert(svc)
	return &runner{reg: reg, service: "svc", proc: proc, grace: time.Millisecond}
}

func TestDecideTaskPolicy(t *testing.T) {
	Convey("A task that exits zero is Exited, never respawned", t, func() {
		r := newTestRunner(ProcessDefinition{Name: "t", ServiceType: Task})
		state, respawn := r.decide(0)
		So(state, ShouldEqual, Exited)
		So(respawn, ShouldBeFalse)
	})

	Convey("A task that exits nonzero is Failed, never respawned", t, func() {
		r := newTestRunner(ProcessDefinition{Name: "t", ServiceType: Task})
		state, respawn := r.decide(1)
		So(state, ShouldEqual, Failed)
		So(respawn, ShouldBeFalse)
	})
}

func TestDecideServicePolicy(t *testing.T) {
	Convey("A service that exits zero with restart disabled is Exited", t, func() {
		r := newTestRunner(ProcessDefinition{Name: "s", ServiceType: Service, RestartEnabled: false})
		state, respawn := r.decide(0)
		So(state, ShouldEqual, Exited)
		So(respawn, ShouldBeFalse)
	})

	Convey("A service that exits zero with restart enabled always respawns", t, func() {
		r := newTestRunner(ProcessDefinition{Name: "s", ServiceType: Service, RestartEnabled: true, MaxRetries: 0})
		state, respawn := r.decide(0)
		So(state, ShouldEqual, Crashed)
		So(respawn, ShouldBeTrue)
		So(r.proc.restartCount, ShouldEqual, 1)
	})

	Convey("A service crash with restart disabled is Failed", t, func() {
		r := newTestRunner(ProcessDefinition{Name: "s", ServiceType: Service, RestartEnabled: false})
		state, respawn := r.decide(1)
		So(state, ShouldEqual, Failed)
		So(respawn, ShouldBeFalse)
	})

	Convey("A service crash with MaxRetries == 0 never restarts despite RestartEnabled", t, func() {
		r := newTestRunner(ProcessDefinition{Name: "s", ServiceType: Service, RestartEnabled: true, MaxRetries: 0})
		state, respawn := r.decide(1)
		So(state, ShouldEqual, Failed)
		So(respawn, ShouldBeFalse)
	})

	Convey("A service with MaxRetries == 2 respawns exactly twice then fails", t, func() {
		r := newTestRunner(ProcessDefinition{Name: "s", ServiceType: Service, RestartEnabled: true, MaxRetries: 2})

		state, respawn := r.decide(1)
		So(respawn, ShouldBeTrue)
		So(state, ShouldEqual, Crashed)
		So(r.proc.restartCount, ShouldEqual, 1)

		state, respawn = r.decide(1)
		So(respawn, ShouldBeTrue)
		So(state, ShouldEqual, Crashed)
		So(r.proc.restartCount, ShouldEqual, 2)

		state, respawn = r.decide(1)
		So(respawn, ShouldBeFalse)
		So(state, ShouldEqual, Failed)
		So(r.proc.restartCount, ShouldEqual, 2)
	})

	Convey("A negative MaxRetries means unlimited restarts", t, func() {
		r := newTestRunner(ProcessDefinition{Name: "s", ServiceType: Service, RestartEnabled: true, MaxRetries: -1})
		for i := 0; i < 50; i++ {
			_, respawn := r.decide(1)
			So(respawn, ShouldBeTrue)
		}
		So(r.proc.restartCount, ShouldEqual, 50)
	})
}

func TestMergeEnv(t *testing.T) {
	Convey("Later layers override earlier ones, and color is forced on", t, func() {
		out := mergeEnv([]string{"PATH=/bin", "FOO=daemon"}, map[string]string{"FOO": "service"}, map[string]string{"FOO": "process"})
		got := make(map[string]string)
		for _, kv := range out {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					got[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
		So(got["FOO"], ShouldEqual, "process")
		So(got["PATH"], ShouldEqual, "/bin")
		So(got["FORCE_COLOR"], ShouldEqual, "1")
		So(got["CLICOLOR_FORCE"], ShouldEqual, "1")
	})
}

func TestExitCode(t *testing.T) {
	Convey("A nil error means a clean exit", t, func() {
		So(exitCode(nil), ShouldEqual, 0)
	})
}
