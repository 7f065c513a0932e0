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
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DaemonConfig is the top-level daemon configuration, loaded from YAML.
// Every field has a workable zero value so an empty or partial file still
// produces a usable configuration.
type DaemonConfig struct {
	// ListenAddr is the HTTP façade's bind address, e.g. "127.0.0.1:8321".
	ListenAddr string `yaml:"listen_addr"`
	// SocketPath is the Unix domain control socket's path.
	SocketPath string `yaml:"socket_path"`
	// LogRoot is the directory per-process logs are written under.
	LogRoot string `yaml:"log_root"`
	// MaxLogSize is the rotation threshold in bytes for one process's log
	// file.
	MaxLogSize int64 `yaml:"max_log_size"`
	// GraceSeconds is how long a process is given to exit after SIGTERM
	// before it is sent SIGKILL.
	GraceSeconds int `yaml:"grace_seconds"`
	// LogRetentionDays and MaxLogFiles bound periodic log expiry; zero
	// disables the respective check.
	LogRetentionDays int `yaml:"log_retention_days"`
	MaxLogFiles      int `yaml:"max_log_files"`
	// Services declares every service this daemon manages on startup.
	Services []ServiceConfig `yaml:"services"`
}

// ServiceConfig describes one service's on-disk location and how its
// Procfile should be watched.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Dir         string `yaml:"dir"`
	Procfile    string `yaml:"procfile"`
	WatchReload bool   `yaml:"watch_reload"`
}

func defaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		ListenAddr:       "127.0.0.1:8321",
		SocketPath:       "/tmp/overseerd.sock",
		LogRoot:          "",
		MaxLogSize:       DefaultMaxLogSize,
		GraceSeconds:     int(DefaultGraceWindow / time.Second),
		LogRetentionDays: int(DefaultLogRetention / (24 * time.Hour)),
		MaxLogFiles:      DefaultMaxLogFiles,
	}
}

// LoadDaemonConfig reads and parses a YAML daemon configuration from path,
// filling in defaults for anything left unset.
func LoadDaemonConfig(path string) (DaemonConfig, error) {
	cfg := defaultDaemonConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, newError(IoFailure, "", "", "reading daemon config", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, newError(InvalidDefinition, "", "", "parsing daemon config", err)
	}
	if cfg.MaxLogSize <= 0 {
		cfg.MaxLogSize = DefaultMaxLogSize
	}
	if cfg.GraceSeconds <= 0 {
		cfg.GraceSeconds = int(DefaultGraceWindow / time.Second)
	}
	return cfg, nil
}

// Grace returns the configured grace window as a time.Duration.
func (c DaemonConfig) Grace() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// LogRetention returns the configured retention window as a
// time.Duration.
func (c DaemonConfig) LogRetention() time.Duration {
	return time.Duration(c.LogRetentionDays) * 24 * time.Hour
}
