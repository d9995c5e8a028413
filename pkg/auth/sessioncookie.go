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
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

func init() {
	Register("session_cookie", newSessionCookie)
}

// SessionCookie replays cookies from a JSON jar file and keeps the jar in
// sync with Set-Cookie response headers. The jar survives process restarts
// so an interactive login can be reused by later runs.
type SessionCookie struct {
	path   string
	logger *slog.Logger
	state  *State

	mu  sync.Mutex
	jar map[string]string
}

func newSessionCookie(ctx context.Context, cfg *descriptor.AuthConfig, opts Options) (Strategy, error) {
	if cfg.CookieJar == "" {
		return nil, &libretoerrors.ConfigError{
			Key:    "auth.cookie_jar",
			Reason: "session_cookie requires a jar file path",
		}
	}

	jar, err := loadCookieJar(cfg.CookieJar)
	if err != nil {
		return nil, err
	}

	s := &SessionCookie{
		path:   cfg.CookieJar,
		logger: opts.Logger,
		state:  NewState(),
		jar:    jar,
	}
	s.state.SetAuthenticated(len(jar) > 0)
	return s, nil
}

func loadCookieJar(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, &libretoerrors.ConfigError{
			Key:    "auth.cookie_jar",
			Reason: "failed to read cookie jar",
			Cause:  err,
		}
	}
	jar := map[string]string{}
	if err := json.Unmarshal(data, &jar); err != nil {
		return nil, &libretoerrors.ConfigError{
			Key:    "auth.cookie_jar",
			Reason: "cookie jar is not a JSON object of cookie names to values",
			Cause:  err,
		}
	}
	return jar, nil
}

// Name returns "session_cookie".
func (s *SessionCookie) Name() string { return "session_cookie" }

// State returns the shared authentication state.
func (s *SessionCookie) State() *State { return s.state }

// Authenticate reports whether the jar currently holds a session.
func (s *SessionCookie) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	populated := len(s.jar) > 0
	s.mu.Unlock()
	s.state.SetAuthenticated(populated)
	return nil
}

// Prepare attaches every jar cookie to the request.
func (s *SessionCookie) Prepare(ctx context.Context, req *transport.Request) (*transport.Request, error) {
	s.mu.Lock()
	names := make([]string, 0, len(s.jar))
	for name := range s.jar {
		names = append(names, name)
	}
	sort.Strings(names)
	out := req
	for _, name := range names {
		out = out.WithCookie(name, s.jar[name])
	}
	s.mu.Unlock()
	return out, nil
}

// Handle folds Set-Cookie headers into the jar and persists it. Cookies
// that the server expired are dropped.
func (s *SessionCookie) Handle(ctx context.Context, resp *transport.Response) error {
	observeStatus(s.state, resp)
	if resp == nil {
		return nil
	}

	cookies := (&http.Response{Header: resp.Headers}).Cookies()
	if len(cookies) == 0 {
		return nil
	}

	now := time.Now()
	s.mu.Lock()
	for _, c := range cookies {
		expired := c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now))
		if expired || c.Value == "" {
			delete(s.jar, c.Name)
			continue
		}
		s.jar[c.Name] = c.Value
	}
	err := s.saveLocked()
	populated := len(s.jar) > 0
	s.mu.Unlock()

	if err != nil {
		return libretoerrors.Wrap(err, "failed to persist cookie jar")
	}
	if populated {
		s.state.SetAuthenticated(true)
	}
	return nil
}

// saveLocked writes the jar atomically; the caller holds s.mu.
func (s *SessionCookie) saveLocked() error {
	data, err := json.MarshalIndent(s.jar, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
