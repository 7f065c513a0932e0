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
	"log"
	"strings"
	"sync"
)

// MultiLogger fans daemon-level log lines (service start/stop, reload,
// orchestrator errors -- never per-process output, which belongs to an
// Output Capture) out to any number of underlying loggers: a stderr
// logger for interactive runs, a daemon log file, or both at once.
type MultiLogger struct {
	log     *log.Logger
	loggers []*log.Logger
	lock    sync.Mutex
}

// Write implements io.Writer for use as the backing writer of Logger. It
// expects newline-delimited text and fans each line out individually so
// that per-logger prefixes and flags apply per line, not per Write call.
func (l *MultiLogger) Write(b []byte) (int, error) {
	lines := strings.Split(strings.Trim(string(b), "\n"), "\n")
	l.lock.Lock()
	for _, line := range lines {
		for _, logger := range l.loggers {
			logger.Println(line)
		}
	}
	l.lock.Unlock()
	return len(b), nil
}

// AddLogger registers a destination logger. A logger already registered
// is left in place rather than duplicated.
func (l *MultiLogger) AddLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, x := range l.loggers {
		if x == logger {
			return
		}
	}
	l.loggers = append(l.loggers, logger)
}

// DelLogger removes a previously registered destination logger.
func (l *MultiLogger) DelLogger(logger *log.Logger) {
	l.lock.Lock()
	defer l.lock.Unlock()

	for i, x := range l.loggers {
		if x == logger {
			l.loggers = append(l.loggers[:i], l.loggers[i+1:]...)
			break
		}
	}
}

// SetPrefix applies the prefix to every currently registered logger.
func (l *MultiLogger) SetPrefix(prefix string) {
	l.lock.Lock()
	for _, x := range l.loggers {
		x.SetPrefix(prefix)
	}
	l.lock.Unlock()
}

// SetFlags applies the flags to every currently registered logger.
func (l *MultiLogger) SetFlags(flags int) {
	l.lock.Lock()
	for _, x := range l.loggers {
		x.SetFlags(flags)
	}
	l.lock.Unlock()
}

// Logger returns the *log.Logger callers should use to write through this
// fan-out.
func (l *MultiLogger) Logger() *log.Logger {
	return l.log
}

func NewMultiLogger() *MultiLogger {
	m := &MultiLogger{}
	m.log = log.New(m, "", 0)
	return m
}
