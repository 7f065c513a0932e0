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
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

var procNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ParseProcfile reads name: command declarations from r, one per line.
// Blank lines and lines whose first non-whitespace character is '#' are
// ignored. Every returned definition defaults to a Service with restart
// enabled, three retries, a one second restart delay, and autostart on --
// callers that need Task semantics or different policy adjust the
// returned slice before handing it to the Service Orchestrator.
func ParseProcfile(r io.Reader) ([]ProcessDefinition, error) {
	seen := make(map[string]bool)
	var defs []ProcessDefinition

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, newError(InvalidDefinition, "", "", fmt.Sprintf("line %d: missing ':' separating name from command", lineNo), nil)
		}
		name := strings.TrimSpace(line[:idx])
		command := strings.TrimSpace(line[idx+1:])

		if !procNamePattern.MatchString(name) {
			return nil, newError(InvalidDefinition, "", name, fmt.Sprintf("line %d: invalid process name %q", lineNo, name), nil)
		}
		if command == "" {
			return nil, newError(InvalidDefinition, "", name, fmt.Sprintf("line %d: empty command", lineNo), nil)
		}
		if seen[name] {
			return nil, newError(InvalidDefinition, "", name, fmt.Sprintf("line %d: duplicate process name %q", lineNo, name), nil)
		}
		seen[name] = true

		defs = append(defs, ProcessDefinition{
			Name:           name,
			Command:        command,
			ServiceType:    Service,
			RestartEnabled: true,
			MaxRetries:     3,
			RestartDelay:   time.Second,
			Autostart:      true,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, newError(IoFailure, "", "", "reading procfile", err)
	}
	if len(defs) == 0 {
		return nil, newError(InvalidDefinition, "", "", "procfile declares no processes", nil)
	}
	return defs, nil
}

// ParseProcfileFile opens path and parses it with ParseProcfile.
func ParseProcfileFile(path string) ([]ProcessDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(IoFailure, "", "", "opening procfile", err)
	}
	defer f.Close()
	return ParseProcfile(f)
}
