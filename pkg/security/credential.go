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

package security

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	cerror "github.com/dbsync-io/dbsync/pkg/errors"
)

// Credential holds the path parameters needed to build a tls.Config for
// either side of the replication link.
type Credential struct {
	CAPath        string   `toml:"ca-path" json:"ca-path"`
	CertPath      string   `toml:"cert-path" json:"cert-path"`
	KeyPath       string   `toml:"key-path" json:"key-path"`
	CertAllowedCN []string `toml:"cert-allowed-cn" json:"cert-allowed-cn"`
}

// IsTLSEnabled checks whether TLS is enabled or not.
func (s *Credential) IsTLSEnabled() bool {
	return len(s.CAPath) != 0 && len(s.CertPath) != 0 && len(s.KeyPath) != 0
}

// ToTLSConfig generates a tls.Config for the dialing (client) side.
func (s *Credential) ToTLSConfig() (*tls.Config, error) {
	cfg, err := s.baseConfig()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToServerTLSConfig generates a tls.Config for the listening side. When a CA
// is configured the peer must present a certificate signed by it (mTLS).
func (s *Credential) ToServerTLSConfig() (*tls.Config, error) {
	cfg, err := s.baseConfig()
	if err != nil {
		return nil, err
	}
	cfg.ClientCAs = cfg.RootCAs
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg, nil
}

func (s *Credential) baseConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.CertPath, s.KeyPath)
	if err != nil {
		return nil, cerror.WrapError(cerror.ErrToTLSConfigFailed, err)
	}
	caData, err := os.ReadFile(s.CAPath)
	if err != nil {
		return nil, cerror.WrapError(cerror.ErrToTLSConfigFailed, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, cerror.ErrToTLSConfigFailed.GenWithStack("failed to append CA certificate")
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}
	if len(s.CertAllowedCN) != 0 {
		cfg.VerifyPeerCertificate = s.verifyCommonName
	}
	return cfg, nil
}

// verifyCommonName checks that the peer certificate's common name is in the
// allowed list.
func (s *Credential) verifyCommonName(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return cerror.ErrToTLSConfigFailed.GenWithStack("no peer certificate presented")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return cerror.WrapError(cerror.ErrToTLSConfigFailed, err)
	}
	for _, cn := range s.CertAllowedCN {
		if cert.Subject.CommonName == cn {
			return nil
		}
	}
	return cerror.ErrToTLSConfigFailed.GenWithStack(
		"peer common name %q is not in the allowed list", cert.Subject.CommonName)
}
