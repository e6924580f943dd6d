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

package server

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dbsync-io/dbsync/pkg/cmd/util"
	"github.com/dbsync-io/dbsync/pkg/config"
	cerror "github.com/dbsync-io/dbsync/pkg/errors"
	"github.com/dbsync-io/dbsync/pkg/server"
	"github.com/dbsync-io/dbsync/pkg/sink"
	"github.com/dbsync-io/dbsync/pkg/version"
	"github.com/dbsync-io/dbsync/pkg/watermark"
)

// options defines flags for the `server` command.
type options struct {
	serverConfig         *config.ServerConfig
	serverConfigFilePath string
	caPath               string
	certPath             string
	keyPath              string
}

// newOptions creates new options for the `server` command.
func newOptions() *options {
	return &options{serverConfig: config.GetDefaultServerConfig()}
}

// addFlags receives a *cobra.Command reference and binds flags related to
// the server to it.
func (o *options) addFlags(cmd *cobra.Command) {
	defaultCfg := config.GetDefaultServerConfig()
	cmd.Flags().StringVar(&o.serverConfig.Addr, "addr", defaultCfg.Addr, "Set the listening address")
	cmd.Flags().DurationVar((*time.Duration)(&o.serverConfig.IOTimeout), "io-timeout", time.Duration(defaultCfg.IOTimeout), "Per-frame I/O and handshake timeout")
	cmd.Flags().StringVar(&o.serverConfig.MaxFrameSize, "max-frame-size", defaultCfg.MaxFrameSize, "Maximum accepted wire frame size, e.g. 1MB")
	cmd.Flags().StringVar(&o.serverConfig.DataDir, "data-dir", defaultCfg.DataDir, "Directory for the server watermark file")
	cmd.Flags().StringVar(&o.serverConfig.LogFile, "log-file", defaultCfg.LogFile, "log file path")
	cmd.Flags().StringVar(&o.serverConfig.LogLevel, "log-level", defaultCfg.LogLevel, "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&o.serverConfig.StatusAddr, "status-addr", defaultCfg.StatusAddr, "HTTP address for prometheus metrics, empty disables it")
	cmd.Flags().StringVar(&o.serverConfig.Target.Host, "target-host", defaultCfg.Target.Host, "Target database host")
	cmd.Flags().IntVar(&o.serverConfig.Target.Port, "target-port", defaultCfg.Target.Port, "Target database port")
	cmd.Flags().StringVar(&o.serverConfig.Target.User, "target-user", defaultCfg.Target.User, "Target database user")
	cmd.Flags().StringVar(&o.serverConfig.Target.Password, "target-password", defaultCfg.Target.Password, "Target database password")
	cmd.Flags().StringVar(&o.serverConfig.Target.Database, "target-database", defaultCfg.Target.Database, "Target database name")
	cmd.Flags().StringVar(&o.serverConfig.Target.Table, "table", defaultCfg.Target.Table, "Replicated table name")
	cmd.Flags().StringVar(&o.serverConfig.Target.KeyColumn, "key-column", defaultCfg.Target.KeyColumn, "Monotonic watermark key column")
	cmd.Flags().StringVar(&o.caPath, "ca", "", "CA certificate path for TLS connection")
	cmd.Flags().StringVar(&o.certPath, "cert", "", "Certificate path for TLS connection")
	cmd.Flags().StringVar(&o.keyPath, "key", "", "Private key path for TLS connection")
	cmd.Flags().StringVar(&o.serverConfigFilePath, "config", "", "Path of the configuration file")
}

// complete merges the config file with explicitly set flags, flags winning.
func (o *options) complete(cmd *cobra.Command) (*config.ServerConfig, error) {
	cfg := config.GetDefaultServerConfig()
	if o.serverConfigFilePath != "" {
		if err := util.StrictDecodeFile(o.serverConfigFilePath, "dbsync server", cfg); err != nil {
			return nil, err
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "addr":
			cfg.Addr = o.serverConfig.Addr
		case "io-timeout":
			cfg.IOTimeout = o.serverConfig.IOTimeout
		case "max-frame-size":
			cfg.MaxFrameSize = o.serverConfig.MaxFrameSize
		case "data-dir":
			cfg.DataDir = o.serverConfig.DataDir
		case "log-file":
			cfg.LogFile = o.serverConfig.LogFile
		case "log-level":
			cfg.LogLevel = o.serverConfig.LogLevel
		case "status-addr":
			cfg.StatusAddr = o.serverConfig.StatusAddr
		case "target-host":
			cfg.Target.Host = o.serverConfig.Target.Host
		case "target-port":
			cfg.Target.Port = o.serverConfig.Target.Port
		case "target-user":
			cfg.Target.User = o.serverConfig.Target.User
		case "target-password":
			cfg.Target.Password = o.serverConfig.Target.Password
		case "target-database":
			cfg.Target.Database = o.serverConfig.Target.Database
		case "table":
			cfg.Target.Table = o.serverConfig.Target.Table
		case "key-column":
			cfg.Target.KeyColumn = o.serverConfig.Target.KeyColumn
		case "ca":
			cfg.Security.CAPath = o.caPath
		case "cert":
			cfg.Security.CertPath = o.certPath
		case "key":
			cfg.Security.KeyPath = o.keyPath
		}
	})
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) run(cmd *cobra.Command) error {
	cfg, err := o.complete(cmd)
	if err != nil {
		return err
	}

	util.InitCmd(cmd, &log.Config{Level: cfg.LogLevel, File: log.FileLogConfig{Filename: cfg.LogFile}})
	version.LogVersionInfo()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	util.InitSignalHandling(cancel)

	tlsCfg, err := cfg.Security.ToServerTLSConfig()
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", cfg.Target.DSN())
	if err != nil {
		return cerror.WrapError(cerror.ErrSinkRejected, err)
	}
	defer db.Close()
	if err := util.PingWithBackoff(ctx, db); err != nil {
		return cerror.WrapError(cerror.ErrSinkRejected, err)
	}

	rowSink := sink.NewMySQLSink(db, cfg.Target.Database, cfg.Target.Table)
	if err := rowSink.CheckTable(ctx); err != nil {
		return err
	}

	store := watermark.NewStore(watermark.DefaultPath(cfg.DataDir, cfg.Target.Table))
	wm, err := store.Load()
	if err != nil {
		return err
	}
	log.Info("loaded applied watermark", zap.Stringer("watermark", wm))

	registry := prometheus.NewRegistry()
	server.InitMetrics(registry)
	if cfg.StatusAddr != "" {
		util.StartStatusServer(ctx, cfg.StatusAddr, registry)
	}

	srv, err := server.New(cfg.Addr, tlsCfg, time.Duration(cfg.IOTimeout), cfg.MaxFrameBytes(), rowSink, store)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// NewCmdServer creates the `server` command.
func NewCmdServer() *cobra.Command {
	o := newOptions()
	command := &cobra.Command{
		Use:   "server",
		Short: "Run the receiving side of the replication link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(command)
	return command
}
