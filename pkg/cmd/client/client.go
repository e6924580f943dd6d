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

package client

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
	"github.com/dbsync-io/dbsync/pkg/session"
	"github.com/dbsync-io/dbsync/pkg/source"
	"github.com/dbsync-io/dbsync/pkg/syncer"
	"github.com/dbsync-io/dbsync/pkg/version"
	"github.com/dbsync-io/dbsync/pkg/watermark"
)

// options defines flags for the `client` command.
type options struct {
	clientConfig         *config.ClientConfig
	clientConfigFilePath string
	caPath               string
	certPath             string
	keyPath              string
}

// newOptions creates new options for the `client` command.
func newOptions() *options {
	return &options{clientConfig: config.GetDefaultClientConfig()}
}

// addFlags receives a *cobra.Command reference and binds flags related to
// the client to it.
func (o *options) addFlags(cmd *cobra.Command) {
	defaultCfg := config.GetDefaultClientConfig()
	cmd.Flags().StringVar(&o.clientConfig.Addr, "addr", defaultCfg.Addr, "Remote server address to connect to")
	cmd.Flags().DurationVar((*time.Duration)(&o.clientConfig.SyncInterval), "sync-interval", time.Duration(defaultCfg.SyncInterval), "Fixed interval between sync cycles")
	cmd.Flags().DurationVar((*time.Duration)(&o.clientConfig.IOTimeout), "io-timeout", time.Duration(defaultCfg.IOTimeout), "Per-frame I/O and handshake timeout")
	cmd.Flags().StringVar(&o.clientConfig.MaxFrameSize, "max-frame-size", defaultCfg.MaxFrameSize, "Maximum wire frame size, e.g. 1MB")
	cmd.Flags().IntVar(&o.clientConfig.FetchLimit, "fetch-limit", defaultCfg.FetchLimit, "Maximum rows fetched per cycle, 0 means unlimited")
	cmd.Flags().StringVar(&o.clientConfig.DataDir, "data-dir", defaultCfg.DataDir, "Directory for the client watermark file")
	cmd.Flags().StringVar(&o.clientConfig.LogFile, "log-file", defaultCfg.LogFile, "log file path")
	cmd.Flags().StringVar(&o.clientConfig.LogLevel, "log-level", defaultCfg.LogLevel, "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&o.clientConfig.StatusAddr, "status-addr", defaultCfg.StatusAddr, "HTTP address for prometheus metrics, empty disables it")
	cmd.Flags().StringVar(&o.clientConfig.Source.Host, "source-host", defaultCfg.Source.Host, "Source database host")
	cmd.Flags().IntVar(&o.clientConfig.Source.Port, "source-port", defaultCfg.Source.Port, "Source database port")
	cmd.Flags().StringVar(&o.clientConfig.Source.User, "source-user", defaultCfg.Source.User, "Source database user")
	cmd.Flags().StringVar(&o.clientConfig.Source.Password, "source-password", defaultCfg.Source.Password, "Source database password")
	cmd.Flags().StringVar(&o.clientConfig.Source.Database, "source-database", defaultCfg.Source.Database, "Source database name")
	cmd.Flags().StringVar(&o.clientConfig.Source.Table, "table", defaultCfg.Source.Table, "Replicated table name")
	cmd.Flags().StringVar(&o.clientConfig.Source.KeyColumn, "key-column", defaultCfg.Source.KeyColumn, "Monotonic watermark key column")
	cmd.Flags().StringVar(&o.caPath, "ca", "", "CA certificate path for TLS connection")
	cmd.Flags().StringVar(&o.certPath, "cert", "", "Certificate path for TLS connection")
	cmd.Flags().StringVar(&o.keyPath, "key", "", "Private key path for TLS connection")
	cmd.Flags().StringVar(&o.clientConfigFilePath, "config", "", "Path of the configuration file")
}

// complete merges the config file with explicitly set flags, flags winning.
func (o *options) complete(cmd *cobra.Command) (*config.ClientConfig, error) {
	cfg := config.GetDefaultClientConfig()
	if o.clientConfigFilePath != "" {
		if err := util.StrictDecodeFile(o.clientConfigFilePath, "dbsync client", cfg); err != nil {
			return nil, err
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "addr":
			cfg.Addr = o.clientConfig.Addr
		case "sync-interval":
			cfg.SyncInterval = o.clientConfig.SyncInterval
		case "io-timeout":
			cfg.IOTimeout = o.clientConfig.IOTimeout
		case "max-frame-size":
			cfg.MaxFrameSize = o.clientConfig.MaxFrameSize
		case "fetch-limit":
			cfg.FetchLimit = o.clientConfig.FetchLimit
		case "data-dir":
			cfg.DataDir = o.clientConfig.DataDir
		case "log-file":
			cfg.LogFile = o.clientConfig.LogFile
		case "log-level":
			cfg.LogLevel = o.clientConfig.LogLevel
		case "status-addr":
			cfg.StatusAddr = o.clientConfig.StatusAddr
		case "source-host":
			cfg.Source.Host = o.clientConfig.Source.Host
		case "source-port":
			cfg.Source.Port = o.clientConfig.Source.Port
		case "source-user":
			cfg.Source.User = o.clientConfig.Source.User
		case "source-password":
			cfg.Source.Password = o.clientConfig.Source.Password
		case "source-database":
			cfg.Source.Database = o.clientConfig.Source.Database
		case "table":
			cfg.Source.Table = o.clientConfig.Source.Table
		case "key-column":
			cfg.Source.KeyColumn = o.clientConfig.Source.KeyColumn
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

	tlsCfg, err := cfg.Security.ToTLSConfig()
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", cfg.Source.DSN())
	if err != nil {
		return cerror.WrapError(cerror.ErrSourceUnavailable, err)
	}
	defer db.Close()
	if err := util.PingWithBackoff(ctx, db); err != nil {
		return cerror.WrapError(cerror.ErrSourceUnavailable, err)
	}

	store := watermark.NewStore(watermark.DefaultPath(cfg.DataDir, cfg.Source.Table))
	wm, err := store.Load()
	if err != nil {
		return err
	}
	log.Info("loaded sync watermark", zap.Stringer("watermark", wm))

	registry := prometheus.NewRegistry()
	syncer.InitMetrics(registry)
	if cfg.StatusAddr != "" {
		util.StartStatusServer(ctx, cfg.StatusAddr, registry)
	}

	src := source.NewMySQLSource(db, cfg.Source.Database, cfg.Source.Table, cfg.Source.KeyColumn, cfg.FetchLimit)
	sess := session.New(
		cfg.Addr,
		tlsCfg,
		time.Duration(cfg.IOTimeout),
		src,
		store,
		cfg.Source.KeyColumn,
		cfg.MaxFrameBytes(),
	)
	return syncer.New(time.Duration(cfg.SyncInterval), sess).Run(ctx)
}

// NewCmdClient creates the `client` command.
func NewCmdClient() *cobra.Command {
	o := newOptions()
	command := &cobra.Command{
		Use:   "client",
		Short: "Run the pushing side of the replication link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(command)
	return command
}
