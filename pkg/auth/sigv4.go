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
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

func init() {
	Register("sigv4", newSigV4)
}

// signedHeaders are copied back onto the request after SignHTTP runs.
var signedHeaders = []string{
	"Authorization",
	"X-Amz-Date",
	"X-Amz-Security-Token",
	"X-Amz-Content-Sha256",
}

// SigV4 signs requests with AWS Signature Version 4. Static credentials
// come from the configuration; otherwise the default AWS credential chain
// applies (environment, shared config, instance metadata).
type SigV4 struct {
	region   string
	service  string
	validate bool
	awsCfg   aws.Config
	signer   *v4.Signer
	logger   *slog.Logger
	state    *State
}

func newSigV4(ctx context.Context, cfg *descriptor.AuthConfig, opts Options) (Strategy, error) {
	if cfg.Region == "" {
		return nil, &libretoerrors.ConfigError{
			Key:    "auth.region",
			Reason: "sigv4 requires an AWS region",
		}
	}
	if cfg.Service == "" {
		return nil, &libretoerrors.ConfigError{
			Key:    "auth.service",
			Reason: "sigv4 requires an AWS service name",
		}
	}

	var awsCfg aws.Config
	if cfg.AccessKeyID != "" {
		keyID, err := resolveCredential(ctx, opts.Resolver, "auth.access_key_id", cfg.AccessKeyID, true)
		if err != nil {
			return nil, err
		}
		secret, err := resolveCredential(ctx, opts.Resolver, "auth.secret_access_key", cfg.SecretAccessKey, true)
		if err != nil {
			return nil, err
		}
		token, err := resolveCredential(ctx, opts.Resolver, "auth.session_token", cfg.SessionToken, false)
		if err != nil {
			return nil, err
		}
		awsCfg = aws.Config{
			Region:      cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(keyID, secret, token),
		}
	} else {
		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		loaded, err := config.LoadDefaultConfig(loadCtx, config.WithRegion(cfg.Region))
		if err != nil {
			return nil, &libretoerrors.AuthError{
				Strategy: "sigv4",
				Message:  "failed to load AWS configuration",
				Cause:    err,
			}
		}
		awsCfg = loaded
	}

	return &SigV4{
		region:   cfg.Region,
		service:  cfg.Service,
		validate: cfg.ValidateIdentity,
		awsCfg:   awsCfg,
		signer:   v4.NewSigner(),
		logger:   opts.Logger,
		state:    NewState(),
	}, nil
}

// Name returns "sigv4".
func (s *SigV4) Name() string { return "sigv4" }

// State returns the shared authentication state.
func (s *SigV4) State() *State { return s.state }

// Authenticate resolves credentials from the provider chain and, when
// validate_identity is set, confirms them against STS GetCallerIdentity.
func (s *SigV4) Authenticate(ctx context.Context) error {
	if _, err := s.awsCfg.Credentials.Retrieve(ctx); err != nil {
		s.state.SetAuthenticated(false)
		return &libretoerrors.AuthError{
			Strategy: "sigv4",
			Message:  "unable to resolve AWS credentials",
			Cause:    err,
		}
	}

	if s.validate {
		stsClient := sts.NewFromConfig(s.awsCfg)
		validationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		out, err := stsClient.GetCallerIdentity(validationCtx, &sts.GetCallerIdentityInput{})
		if err != nil {
			s.state.SetAuthenticated(false)
			return &libretoerrors.AuthError{
				Strategy: "sigv4",
				Message:  "AWS credential validation failed",
				Cause:    err,
			}
		}
		s.state.SetMetadata("caller_arn", aws.ToString(out.Arn))
		s.logger.Debug("sigv4 identity validated", "arn", aws.ToString(out.Arn))
	}

	s.state.SetAuthenticated(true)
	return nil
}

// Prepare finalizes the request and signs it in place. The signature
// covers the final URL, headers, and a SHA256 hash of the encoded body.
func (s *SigV4) Prepare(ctx context.Context, req *transport.Request) (*transport.Request, error) {
	prepared, err := req.Prepare()
	if err != nil {
		return nil, &libretoerrors.AuthError{
			Strategy: "sigv4",
			Message:  "cannot finalize request for signing",
			Cause:    err,
		}
	}

	creds, err := s.awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		s.state.SetAuthenticated(false)
		return nil, &libretoerrors.AuthError{
			Strategy: "sigv4",
			Message:  "unable to resolve AWS credentials",
			Cause:    err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, prepared.Method, prepared.FinalURL(), nil)
	if err != nil {
		return nil, &libretoerrors.AuthError{
			Strategy: "sigv4",
			Message:  "cannot build request for signing",
			Cause:    err,
		}
	}
	for key, value := range prepared.Headers {
		httpReq.Header.Set(key, value)
	}

	hash := payloadHash(prepared.RawBody())
	httpReq.Header.Set("X-Amz-Content-Sha256", hash)

	if err := s.signer.SignHTTP(ctx, creds, httpReq, hash, s.service, s.region, time.Now()); err != nil {
		return nil, &libretoerrors.AuthError{
			Strategy: "sigv4",
			Message:  "failed to sign request",
			Cause:    err,
		}
	}

	for _, name := range signedHeaders {
		if value := httpReq.Header.Get(name); value != "" {
			prepared.Headers[name] = value
		}
	}
	return prepared, nil
}

// Handle clears the authenticated flag on 401/403.
func (s *SigV4) Handle(ctx context.Context, resp *transport.Response) error {
	observeStatus(s.state, resp)
	return nil
}

// payloadHash computes the SHA256 hex digest SigV4 expects for the body.
func payloadHash(body []byte) string {
	if body == nil {
		body = []byte{}
	}
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}
