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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-level collectors the HTTP façade's /metrics
// endpoint exposes. All three are derived entirely from periodic Status
// snapshots rather than wired into OutputCapture's or the runner's hot
// path, so scraping never contends with supervision.
type Metrics struct {
	ProcessState  *prometheus.GaugeVec
	RestartCount  *prometheus.GaugeVec
	ProcessUptime *prometheus.GaugeVec
}

// NewMetrics constructs and registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProcessState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "overseer",
			Name:      "process_state",
			Help:      "1 for the current state of a process, 0 for every other state.",
		}, []string{"service", "process", "state"}),
		RestartCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "overseer",
			Name:      "process_restart_count",
			Help:      "Restarts observed for a process since it was last (re)started.",
		}, []string{"service", "process"}),
		ProcessUptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "overseer",
			Name:      "process_uptime_seconds",
			Help:      "Seconds since a running process's current instance was spawned.",
		}, []string{"service", "process"}),
	}
	reg.MustRegister(m.ProcessState, m.RestartCount, m.ProcessUptime)
	return m
}

// Observe updates every gauge from a fresh set of service snapshots. It
// is called periodically by the daemon, not from the supervision loop.
func (m *Metrics) Observe(snapshots []*ServiceSnapshot) {
	states := []ProcessState{Starting, Running, Stopping, Stopped, Crashed, Failed, Exited}
	for _, svc := range snapshots {
		for _, p := range svc.Processes {
			for _, s := range states {
				v := 0.0
				if s == p.State {
					v = 1.0
				}
				m.ProcessState.WithLabelValues(svc.Name, p.Name, s.String()).Set(v)
			}
			m.RestartCount.WithLabelValues(svc.Name, p.Name).Set(float64(p.RestartCount))
			m.ProcessUptime.WithLabelValues(svc.Name, p.Name).Set(p.UptimeSecs)
		}
	}
}
