// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package httpsession implements the HTTP Client Session state machine
// from spec.md §4.2: connect/put_begin/write/put_finalize/quit, hand-built
// against net/crypto-tls rather than net/http, since burst connection
// reuse and blockwise streaming need control net/http.Client does not
// expose at this granularity. This mirrors the teacher's own choice to
// hand-roll its wire protocol directly over net.Conn rather than reach
// for a higher-level client library.
package httpsession

import (
	"crypto/tls"
	"fmt"

	"github.com/openafd/sf-http/internal/job"
)

// NewTLSConfig builds the *tls.Config for mode, generalizing the teacher's
// internal/pki.NewClientTLSConfig (which always builds a strict mTLS
// config) to AFD's three-way TLS mode:
//
//   - TLSOff: nil config, connect() uses a plain net.Conn.
//   - TLSOpportunistic: TLS attempted, server certificate NOT verified
//     (best-effort confidentiality, matching HOST_CONFIG's "try TLS but
//     don't require a valid chain" semantics).
//   - TLSRequiredStrict: TLS required, full chain + hostname verification.
//
// AFD's job descriptor carries no client-certificate concept (unlike the
// teacher's mTLS-everywhere design), so client certs are optional and only
// loaded when the job supplies a path; serverName is used for SNI and
// certificate hostname verification in the strict case.
func NewTLSConfig(mode job.TLSMode, serverName string, clientCertPath, clientKeyPath string) (*tls.Config, error) {
	if mode == job.TLSOff {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if mode == job.TLSOpportunistic {
		cfg.InsecureSkipVerify = true
	}

	if clientCertPath != "" && clientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(clientCertPath, clientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
