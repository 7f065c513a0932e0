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

// Package watch triggers a service reload whenever its Procfile changes
// on disk, for services that opt in.
package watch

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce collapses the burst of events one editor save typically
// produces (write, chmod, sometimes a rename-into-place) into a single
// reload.
const debounce = 300 * time.Millisecond

// ReloadFunc is invoked once per debounced change to path.
type ReloadFunc func(service, path string)

// Watcher watches a set of (service, procfile path) pairs and calls back
// into ReloadFunc when one changes.
type Watcher struct {
	fsw     *fsnotify.Watcher
	logger  *log.Logger
	onEvent ReloadFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	byPath  map[string]string // watched path -> service name
}

// New creates a Watcher. Call Add for every Procfile that should trigger
// onEvent, then Run in its own goroutine.
func New(logger *log.Logger, onEvent ReloadFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:     fsw,
		logger:  logger,
		onEvent: onEvent,
		timers:  make(map[string]*time.Timer),
		byPath:  make(map[string]string),
	}, nil
}

// Add registers path (a service's Procfile) for watching. fsnotify
// watches the containing directory rather than the file itself, since
// editors commonly replace a file rather than write it in place, which a
// direct file watch would miss.
func (w *Watcher) Add(service, path string) error {
	dir := filepath.Dir(path)
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.byPath[path] = service
	w.mu.Unlock()
	return nil
}

// Run processes fsnotify events until Close is called. It must be started
// in its own goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Printf("watch: %v", err)
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	w.mu.Lock()
	service, tracked := w.byPath[ev.Name]
	w.mu.Unlock()
	if !tracked {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[ev.Name]; ok {
		t.Stop()
	}
	w.timers[ev.Name] = time.AfterFunc(debounce, func() {
		w.onEvent(service, ev.Name)
	})
}

// Close stops the underlying fsnotify watcher and any pending debounce
// timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
