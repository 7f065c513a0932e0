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

//go:build linux || darwin

package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestWatcherDebouncesRewrites(t *testing.T) {
	Convey("A burst of writes to a watched Procfile fires exactly one reload", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "Procfile")
		So(os.WriteFile(path, []byte("web: sleep 1\n"), 0o644), ShouldBeNil)

		events := make(chan string, 8)
		w, err := New(nil, func(service, p string) { events <- service })
		So(err, ShouldBeNil)
		defer w.Close()

		So(w.Add("demo", path), ShouldBeNil)
		go w.Run()

		for i := 0; i < 3; i++ {
			So(os.WriteFile(path, []byte("web: sleep 2\n"), 0o644), ShouldBeNil)
			time.Sleep(20 * time.Millisecond)
		}

		select {
		case svc := <-events:
			So(svc, ShouldEqual, "demo")
		case <-time.After(2 * time.Second):
			t.Fatal("reload was never fired")
		}

		select {
		case <-events:
			t.Fatal("a debounced burst fired more than one reload")
		case <-time.After(500 * time.Millisecond):
		}
	})

	Convey("A change to an untracked file in the same directory triggers nothing", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "Procfile")
		other := filepath.Join(dir, "README")
		So(os.WriteFile(path, []byte("web: sleep 1\n"), 0o644), ShouldBeNil)
		So(os.WriteFile(other, []byte("hello\n"), 0o644), ShouldBeNil)

		events := make(chan string, 8)
		w, err := New(nil, func(service, p string) { events <- service })
		So(err, ShouldBeNil)
		defer w.Close()

		So(w.Add("demo", path), ShouldBeNil)
		go w.Run()

		So(os.WriteFile(other, []byte("world\n"), 0o644), ShouldBeNil)

		select {
		case <-events:
			t.Fatal("watching a directory must not fire on unrelated files in it")
		case <-time.After(500 * time.Millisecond):
		}
	})
}
