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

/*
Package secrets resolves credential references for client definitions.

Credential fields in definitions hold references rather than raw values.
Resolve understands three forms:

	secret://stripe-api-key   backend chain lookup
	${STRIPE_API_KEY}         environment expansion
	sk_test_abc               literal passthrough

# Backend chain

Lookups walk a priority-ordered chain of SecretBackend implementations,
highest priority first:

	env      (100)  LIBRETTO_SECRET_* environment variables
	keychain  (50)  OS keyring: macOS Keychain, Secret Service, Credential Manager
	file      (25)  AES-256-GCM encrypted file, argon2id key derivation

Build a custom chain or take the standard one:

	resolver := secrets.NewResolver(secrets.NewEnvBackend(), secrets.NewKeychainBackend())
	resolver := secrets.DefaultResolver()

The env backend normalizes key names, so "stripe-api-key" reads
LIBRETTO_SECRET_STRIPE_API_KEY. ErrSecretNotFound means no backend holds
the key; ErrBackendUnavailable means the chain is empty or the backend
cannot run in this environment.

# Masking

Every value the resolver hands out is registered with its Masker, along
with the expansions of credential-suffixed ${VAR} references (_TOKEN,
_KEY, _PASSWORD and similar). Wrapping a logger with the masker keeps
resolved credentials out of log output:

	logger = log.WithRedactor(logger, resolver.Masker().Mask)
*/
package secrets
