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

package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmvk/overseer"
	"github.com/dmvk/overseer/httpapi"
	"github.com/dmvk/overseer/socket"
	"github.com/dmvk/overseer/watch"
)

var (
	configPath = "overseerd.yaml"
	addr       = ""
	socketPath = ""
)

func main() {
	flag.StringVar(&configPath, "c", configPath, "daemon config path")
	flag.StringVar(&addr, "a", addr, "HTTP listen address (overrides config)")
	flag.StringVar(&socketPath, "s", socketPath, "control socket path (overrides config)")
	flag.Parse()

	logger := log.New(os.Stderr, "overseerd: ", log.LstdFlags)

	cfg, err := overseer.LoadDaemonConfig(configPath)
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}

	reg := overseer.NewRegistry()
	daemonLog := overseer.NewMultiLogger()
	daemonLog.AddLogger(logger)
	orch := overseer.NewOrchestrator(reg, cfg.LogRoot, cfg.MaxLogSize, cfg.Grace(), daemonLog)

	for _, sc := range cfg.Services {
		procfilePath := sc.Procfile
		if procfilePath == "" {
			procfilePath = filepath.Join(sc.Dir, "Procfile")
		}
		defs, err := overseer.ParseProcfileFile(procfilePath)
		if err != nil {
			logger.Printf("skipping service %s: %v", sc.Name, err)
			continue
		}
		if _, err := orch.StartService(sc.Name, sc.Dir, defs, nil, overseer.AllAutostart(), procfilePath); err != nil {
			logger.Printf("failed to start service %s: %v", sc.Name, err)
		}
	}

	metrics := overseer.NewMetrics(prometheus.DefaultRegisterer)
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if snaps, err := orch.Status(); err == nil {
				metrics.Observe(snaps)
			}
		}
	}()

	if cfg.LogRoot != "" {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				overseer.ExpireLogs(cfg.LogRoot, cfg.LogRetention(), cfg.MaxLogFiles)
			}
		}()
	}

	watcher, err := watch.New(logger, func(service, path string) {
		logger.Printf("procfile changed for %s, reloading", service)
		for _, sc := range cfg.Services {
			if sc.Name != service || !sc.WatchReload {
				continue
			}
			defs, err := overseer.ParseProcfileFile(path)
			if err != nil {
				logger.Printf("reload %s: %v", service, err)
				return
			}
			if _, err := orch.ReloadService(service, sc.Dir, defs, nil, overseer.AllAutostart(), path); err != nil {
				logger.Printf("reload %s: %v", service, err)
			}
		}
	})
	if err != nil {
		logger.Printf("procfile watcher unavailable: %v", err)
	} else {
		for _, sc := range cfg.Services {
			if !sc.WatchReload {
				continue
			}
			procfilePath := sc.Procfile
			if procfilePath == "" {
				procfilePath = filepath.Join(sc.Dir, "Procfile")
			}
			watcher.Add(sc.Name, procfilePath)
		}
		go watcher.Run()
		defer watcher.Close()
	}

	acceptor, err := socket.Listen(cfg.SocketPath, orch, logger)
	if err != nil {
		logger.Fatalf("control socket: %v", err)
	}
	go acceptor.Serve()
	defer acceptor.Close()

	go func() {
		logger.Fatal(http.ListenAndServe(cfg.ListenAddr, httpapi.NewHandler(orch, metrics)))
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Print("shutting down")
	for _, sc := range cfg.Services {
		if err := orch.StopService(sc.Name); err != nil {
			logger.Printf("stopping %s: %v", sc.Name, err)
		}
	}
}
