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

package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

func init() {
	Register("jwt_bearer", newJWTBearer)
}

// jwtAssertionTTL bounds each signed assertion's lifetime.
const jwtAssertionTTL = 5 * time.Minute

// jwtRefreshMargin re-signs this long before the cached assertion expires.
const jwtRefreshMargin = 30 * time.Second

// JWTBearer signs a JWT assertion and sends it as a bearer token. The
// assertion is cached and re-signed shortly before it expires.
type JWTBearer struct {
	method   jwt.SigningMethod
	key      any
	issuer   string
	subject  string
	audience string
	keyID    string
	state    *State

	mu        sync.Mutex
	assertion string
	expiresAt time.Time
}

func newJWTBearer(ctx context.Context, cfg *descriptor.AuthConfig, opts Options) (Strategy, error) {
	keyData, err := resolveCredential(ctx, opts.Resolver, "auth.private_key", cfg.PrivateKey, true)
	if err != nil {
		return nil, err
	}
	if cfg.Issuer == "" {
		return nil, &libretoerrors.ConfigError{
			Key:    "auth.issuer",
			Reason: "jwt_bearer requires an issuer",
		}
	}

	method, key, err := parseSigningKey(cfg.Algorithm, keyData)
	if err != nil {
		return nil, err
	}

	subject := cfg.Subject
	if subject == "" {
		subject = cfg.Issuer
	}

	return &JWTBearer{
		method:   method,
		key:      key,
		issuer:   cfg.Issuer,
		subject:  subject,
		audience: cfg.Audience,
		keyID:    cfg.KeyID,
		state:    NewState(),
	}, nil
}

// parseSigningKey picks the signing method and decodes the key material.
// PEM-encoded keys select an asymmetric method (RS256 by default); plain
// strings are HMAC secrets.
func parseSigningKey(algorithm, keyData string) (jwt.SigningMethod, any, error) {
	isPEM := strings.Contains(keyData, "-----BEGIN")
	if algorithm == "" {
		if isPEM {
			algorithm = "RS256"
		} else {
			algorithm = "HS256"
		}
	}

	switch algorithm {
	case "HS256":
		return jwt.SigningMethodHS256, []byte(keyData), nil
	case "RS256":
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(keyData))
		if err != nil {
			return nil, nil, &libretoerrors.ConfigError{
				Key:    "auth.private_key",
				Reason: "failed to parse RSA private key",
				Cause:  err,
			}
		}
		return jwt.SigningMethodRS256, key, nil
	case "ES256":
		key, err := jwt.ParseECPrivateKeyFromPEM([]byte(keyData))
		if err != nil {
			return nil, nil, &libretoerrors.ConfigError{
				Key:    "auth.private_key",
				Reason: "failed to parse EC private key",
				Cause:  err,
			}
		}
		return jwt.SigningMethodES256, key, nil
	case "EdDSA":
		key, err := jwt.ParseEdPrivateKeyFromPEM([]byte(keyData))
		if err != nil {
			return nil, nil, &libretoerrors.ConfigError{
				Key:    "auth.private_key",
				Reason: "failed to parse Ed25519 private key",
				Cause:  err,
			}
		}
		return jwt.SigningMethodEdDSA, key, nil
	default:
		return nil, nil, &libretoerrors.ConfigError{
			Key:    "auth.algorithm",
			Reason: fmt.Sprintf("unsupported algorithm %q (use HS256, RS256, ES256, or EdDSA)", algorithm),
		}
	}
}

// Name returns "jwt_bearer".
func (j *JWTBearer) Name() string { return "jwt_bearer" }

// State returns the shared authentication state.
func (j *JWTBearer) State() *State { return j.state }

// Authenticate signs an initial assertion.
func (j *JWTBearer) Authenticate(ctx context.Context) error {
	_, err := j.currentAssertion()
	return err
}

// Prepare attaches the signed assertion as a bearer token.
func (j *JWTBearer) Prepare(ctx context.Context, req *transport.Request) (*transport.Request, error) {
	assertion, err := j.currentAssertion()
	if err != nil {
		return nil, err
	}
	return req.WithHeader("Authorization", "Bearer "+assertion), nil
}

// Handle clears the authenticated flag on 401/403 and drops the cached
// assertion so the next request signs a fresh one.
func (j *JWTBearer) Handle(ctx context.Context, resp *transport.Response) error {
	observeStatus(j.state, resp)
	if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
		j.mu.Lock()
		j.assertion = ""
		j.expiresAt = time.Time{}
		j.mu.Unlock()
	}
	return nil
}

func (j *JWTBearer) currentAssertion() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.assertion != "" && time.Now().Before(j.expiresAt.Add(-jwtRefreshMargin)) {
		return j.assertion, nil
	}

	now := time.Now()
	expiry := now.Add(jwtAssertionTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   j.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
		ID:        uuid.NewString(),
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}

	token := jwt.NewWithClaims(j.method, claims)
	if j.keyID != "" {
		token.Header["kid"] = j.keyID
	}

	signed, err := token.SignedString(j.key)
	if err != nil {
		return "", &libretoerrors.AuthError{
			Strategy: "jwt_bearer",
			Message:  "failed to sign assertion",
			Cause:    err,
		}
	}

	j.assertion = signed
	j.expiresAt = expiry
	j.state.SetToken(signed, expiry)
	return signed, nil
}
