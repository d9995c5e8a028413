// Copyright 2025 Tom Barlow
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

package export

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfigInput describes the TLS settings for an exporter connection.
type TLSConfigInput struct {
	// Enabled turns TLS on. When false, BuildTLSConfig returns nil.
	Enabled bool

	// VerifyCertificate controls server certificate verification.
	// Disabling it is intended for development collectors only.
	VerifyCertificate bool

	// CACertPath points at a PEM bundle to trust instead of the
	// system roots. Empty means use the system certificate pool.
	CACertPath string

	// ClientCertPath and ClientKeyPath enable mutual TLS when both
	// are set.
	ClientCertPath string
	ClientKeyPath  string
}

// BuildTLSConfig turns the declarative input into a *tls.Config.
// A nil config with a nil error means the connection should not use TLS.
func BuildTLSConfig(input TLSConfigInput) (*tls.Config, error) {
	if !input.Enabled {
		return nil, nil
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if input.ClientCertPath != "" && input.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(input.ClientCertPath, input.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if !input.VerifyCertificate {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}

	if input.CACertPath != "" {
		pem, err := os.ReadFile(input.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", input.CACertPath)
		}
		cfg.RootCAs = pool
		return cfg, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("failed to load system cert pool: %w", err)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// ValidateTLSConfig validates that a TLS config meets the supported floor.
func ValidateTLSConfig(cfg *tls.Config) error {
	if cfg == nil {
		return fmt.Errorf("TLS config is nil")
	}
	if cfg.MinVersion < tls.VersionTLS12 {
		return fmt.Errorf("minimum TLS version must be 1.2 or higher, got %d", cfg.MinVersion)
	}
	return nil
}
