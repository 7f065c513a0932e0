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

// Package overseer implements the supervisor engine for a multi-project
// local development process supervisor: a registry of named services, each
// a group of processes declared by a Procfile, spawned in their own
// process group, monitored, restarted under policy, and whose combined
// stdout/stderr is captured into a bounded ring, a rotating log file, and a
// fan-out broadcast of live subscribers.
//
// The engine does not parse CLI arguments, does not render a dashboard, and
// does not install itself as a system service. Those are left to the
// httpapi, socket and cmd/overseerd packages, and to external tooling.
package overseer
