// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Command smax-postgres mirrors a SMA-X-like shared variable store into
// PostgreSQL, evolving the destination schema as variables appear,
// grow, or change type (spec §1).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/Smithsonian/smax-postgres/internal/config"
	"github.com/Smithsonian/smax-postgres/internal/daemon"
)

func main() {
	var (
		configPath  = pflag.StringP("config", "c", config.DefaultConfigPath, "path to the configuration file")
		metricsAddr = pflag.StringP("metrics-addr", "p", ":9090", "address to serve Prometheus metrics on")
		deletePat   = pflag.StringP("delete", "d", "", "delete every variable matching this glob pattern, then exit")
		verbose     = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("could not load configuration")
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	d := daemon.New(cfg)
	if err := d.Connect(ctx); err != nil {
		log.WithError(err).Fatal("could not connect")
	}
	defer d.Close()

	if *deletePat != "" {
		n, err := d.DeleteVariables(ctx, *deletePat)
		if err != nil {
			log.WithError(err).Fatal("delete failed")
		}
		log.Infof("deleted %d variables matching %q", n, *deletePat)
		return
	}

	if err := d.Bootstrap(ctx); err != nil {
		log.WithError(err).Fatal("bootstrap failed")
	}

	go serveMetrics(*metricsAddr)

	if err := d.Run(ctx); err != nil {
		log.WithError(err).Fatal("daemon exited with error")
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}
