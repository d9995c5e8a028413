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
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

func init() {
	Register("dpop", newDPoP)
}

// dpopNonceKey stores the most recent server-issued nonce in the state.
const dpopNonceKey = "dpop_nonce"

// DPoP signs a fresh proof-of-possession JWT for every request (RFC 9449).
// The proof binds the HTTP method and URI, carries the public key as an
// embedded JWK, and echoes the latest server nonce when one was issued.
// With a bound access token configured, requests carry
// "Authorization: DPoP <token>" and the proof includes the token hash.
type DPoP struct {
	key         *ecdsa.PrivateKey
	jwk         map[string]any
	accessToken string
	state       *State
}

func newDPoP(ctx context.Context, cfg *descriptor.AuthConfig, opts Options) (Strategy, error) {
	keyData, err := resolveCredential(ctx, opts.Resolver, "auth.private_key", cfg.PrivateKey, true)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(keyData))
	if err != nil {
		return nil, &libretoerrors.ConfigError{
			Key:    "auth.private_key",
			Reason: "dpop requires an EC P-256 private key in PEM form",
			Cause:  err,
		}
	}

	accessToken, err := resolveCredential(ctx, opts.Resolver, "auth.access_token", cfg.AccessToken, false)
	if err != nil {
		return nil, err
	}

	return &DPoP{
		key:         key,
		jwk:         publicJWK(&key.PublicKey),
		accessToken: accessToken,
		state:       NewState(),
	}, nil
}

// publicJWK renders the EC public key as the JWK embedded in each proof.
func publicJWK(pub *ecdsa.PublicKey) map[string]any {
	size := (pub.Curve.Params().BitSize + 7) / 8
	x := make([]byte, size)
	y := make([]byte, size)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)
	return map[string]any{
		"kty": "EC",
		"crv": pub.Curve.Params().Name,
		"x":   base64.RawURLEncoding.EncodeToString(x),
		"y":   base64.RawURLEncoding.EncodeToString(y),
	}
}

// Name returns "dpop".
func (d *DPoP) Name() string { return "dpop" }

// State returns the shared authentication state.
func (d *DPoP) State() *State { return d.state }

// Authenticate marks the strategy authenticated; proofs are per-request.
func (d *DPoP) Authenticate(ctx context.Context) error {
	d.state.SetAuthenticated(true)
	return nil
}

// Prepare signs a proof for this request and attaches it.
func (d *DPoP) Prepare(ctx context.Context, req *transport.Request) (*transport.Request, error) {
	htu, err := req.URL()
	if err != nil {
		return nil, &libretoerrors.AuthError{
			Strategy: "dpop",
			Message:  "cannot bind proof to request URI",
			Cause:    err,
		}
	}

	claims := jwt.MapClaims{
		"jti": uuid.NewString(),
		"htm": req.Method,
		"htu": htu,
		"iat": time.Now().Unix(),
	}
	if nonce, ok := d.state.Metadata(dpopNonceKey); ok {
		claims["nonce"] = nonce
	}
	if d.accessToken != "" {
		hash := sha256.Sum256([]byte(d.accessToken))
		claims["ath"] = base64.RawURLEncoding.EncodeToString(hash[:])
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = d.jwk

	proof, err := token.SignedString(d.key)
	if err != nil {
		return nil, &libretoerrors.AuthError{
			Strategy: "dpop",
			Message:  "failed to sign proof",
			Cause:    err,
		}
	}

	out := req.WithHeader("DPoP", proof)
	if d.accessToken != "" {
		out = out.WithHeader("Authorization", "DPoP "+d.accessToken)
	}
	return out, nil
}

// Handle captures a server-issued nonce for the next proof and clears the
// authenticated flag on 401/403.
func (d *DPoP) Handle(ctx context.Context, resp *transport.Response) error {
	observeStatus(d.state, resp)
	if resp == nil {
		return nil
	}
	if nonce := resp.Header("DPoP-Nonce"); nonce != "" {
		d.state.SetMetadata(dpopNonceKey, nonce)
	}
	return nil
}
