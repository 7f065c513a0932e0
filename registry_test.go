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

	. "github.com/smartystreets/goconvey/convey"
)

func newTestService(name string, state ProcessState) *ManagedService {
	p := &ManagedProcess{def: ProcessDefinition{Name: "p"}, state: state}
	return &ManagedService{name: name, processes: []*ManagedProcess{p}, byName: map[string]*ManagedProcess{"p": p}}
}

func TestRegistryInsertRemove(t *testing.T) {
	Convey("Inserting a fresh name succeeds", t, func() {
		reg := NewRegistry()
		So(reg.insert(newTestService("svc", Running)), ShouldBeNil)
		_, ok := reg.get("svc")
		So(ok, ShouldBeTrue)
	})

	Convey("Inserting over a non-terminal instance fails with AlreadyRunning", t, func() {
		reg := NewRegistry()
		reg.insert(newTestService("svc", Running))
		err := reg.insert(newTestService("svc", Stopped))
		So(IsKind(err, AlreadyRunning), ShouldBeTrue)
	})

	Convey("Inserting over a fully terminal instance replaces it", t, func() {
		reg := NewRegistry()
		reg.insert(newTestService("svc", Exited))
		err := reg.insert(newTestService("svc", Stopped))
		So(err, ShouldBeNil)
		svc, _ := reg.get("svc")
		p, _ := svc.process("p")
		So(p.state, ShouldEqual, Stopped)
	})

	Convey("Removing a service with a non-terminal process fails", t, func() {
		reg := NewRegistry()
		reg.insert(newTestService("svc", Running))
		err := reg.remove("svc")
		So(IsKind(err, InvalidDefinition), ShouldBeTrue)
	})

	Convey("Removing an unknown service fails with NotFound", t, func() {
		reg := NewRegistry()
		So(IsKind(reg.remove("ghost"), NotFound), ShouldBeTrue)
	})

	Convey("Removing a fully terminal service succeeds", t, func() {
		reg := NewRegistry()
		reg.insert(newTestService("svc", Stopped))
		So(reg.remove("svc"), ShouldBeNil)
		_, ok := reg.get("svc")
		So(ok, ShouldBeFalse)
	})
}

func TestRegistryUpdateState(t *testing.T) {
	Convey("updateState sets startTime only on transition to Running, and records a nonzero pid", t, func() {
		reg := NewRegistry()
		reg.insert(newTestService("svc", Stopped))

		reg.updateState("svc", "p", Starting, 0)
		svc, _ := reg.get("svc")
		p, _ := svc.process("p")
		So(p.state, ShouldEqual, Starting)
		So(p.startTime.IsZero(), ShouldBeTrue)

		reg.updateState("svc", "p", Running, 4242)
		So(p.state, ShouldEqual, Running)
		So(p.pid, ShouldEqual, 4242)
		So(p.startTime.IsZero(), ShouldBeFalse)
	})

	Convey("updateState on an unknown service or process is a silent no-op", t, func() {
		reg := NewRegistry()
		reg.insert(newTestService("svc", Stopped))
		reg.updateState("ghost", "p", Running, 1)
		reg.updateState("svc", "ghost", Running, 1)
	})
}
