// Copyright 2024 dbsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// InitCmd initializes the global logger from the given config.
func InitCmd(cmd *cobra.Command, logCfg *log.Config) {
	lg, props, err := log.InitLogger(logCfg)
	if err != nil {
		cmd.Printf("init logger error %v\n", errors.ErrorStack(err))
		os.Exit(1)
	}
	log.ReplaceGlobals(lg, props)
	log.Info("init log", zap.String("file", logCfg.File.Filename), zap.String("level", logCfg.Level))
}

// InitSignalHandling cancels ctx on the first termination signal and forces
// exit on the second. systemd and k8s send signals twice.
func InitSignalHandling(cancel context.CancelFunc) {
	sc := make(chan os.Signal, 2)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		sig := <-sc
		log.Info("got signal, prepare to shutdown", zap.Stringer("signal", sig))
		cancel()
		sig = <-sc
		log.Info("got signal again, force shutdown", zap.Stringer("signal", sig))
		os.Exit(1)
	}()
}

// StrictDecodeFile decodes the toml file strictly. If any item in the file
// is not mapped into the config struct, issue an error and stop the process
// from starting.
func StrictDecodeFile(path, component string, cfg interface{}) error {
	metaData, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Trace(err)
	}

	if undecoded := metaData.Undecoded(); len(undecoded) > 0 {
		var b strings.Builder
		for i, item := range undecoded {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(item.String())
		}
		err = errors.Errorf("component %s's config file %s contained unknown configuration options: %s",
			component, path, b.String())
	}
	return errors.Trace(err)
}

// PingWithBackoff waits out transient unavailability of the database during
// startup, for example when both containers come up together.
func PingWithBackoff(ctx context.Context, db *sql.DB) error {
	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = time.Minute
	return backoff.Retry(op, backoff.WithContext(expo, ctx))
}

// StartStatusServer exposes prometheus metrics over HTTP until ctx is
// cancelled. It returns immediately; serving happens in the background.
func StartStatusServer(ctx context.Context, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("status server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("status server stopped", zap.Error(err))
		}
	}()
}
