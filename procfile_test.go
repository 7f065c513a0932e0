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
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseProcfile(t *testing.T) {
	Convey("Blank lines and comments are ignored", t, func() {
		defs, err := ParseProcfile(strings.NewReader("\n# a comment\nweb: bundle exec rails s\n\n"))
		So(err, ShouldBeNil)
		So(len(defs), ShouldEqual, 1)
		So(defs[0].Name, ShouldEqual, "web")
		So(defs[0].Command, ShouldEqual, "bundle exec rails s")
	})

	Convey("Multiple declarations parse in order", t, func() {
		defs, err := ParseProcfile(strings.NewReader("web: rails s\nworker: sidekiq\n"))
		So(err, ShouldBeNil)
		So(len(defs), ShouldEqual, 2)
		So(defs[0].Name, ShouldEqual, "web")
		So(defs[1].Name, ShouldEqual, "worker")
	})

	Convey("A missing colon is a parse error", t, func() {
		_, err := ParseProcfile(strings.NewReader("web rails s\n"))
		So(IsKind(err, InvalidDefinition), ShouldBeTrue)
	})

	Convey("An invalid process name is a parse error", t, func() {
		_, err := ParseProcfile(strings.NewReader("web service: rails s\n"))
		So(IsKind(err, InvalidDefinition), ShouldBeTrue)
	})

	Convey("A duplicate process name is a parse error", t, func() {
		_, err := ParseProcfile(strings.NewReader("web: a\nweb: b\n"))
		So(IsKind(err, InvalidDefinition), ShouldBeTrue)
	})

	Convey("An empty command is a parse error", t, func() {
		_, err := ParseProcfile(strings.NewReader("web:\n"))
		So(IsKind(err, InvalidDefinition), ShouldBeTrue)
	})

	Convey("A procfile with no declarations is a parse error", t, func() {
		_, err := ParseProcfile(strings.NewReader("# nothing here\n"))
		So(IsKind(err, InvalidDefinition), ShouldBeTrue)
	})
}
