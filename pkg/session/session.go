// Package session owns the runtime shared by every resource of a client:
// the transport, the auth strategy, default headers and cookies, rate
// limiting, retry policy, metrics, and optional state persistence.
//
// A Session is safe for concurrent use. Send is synchronous and spawns no
// goroutines; shared state (cookies, auth state, metrics) is mutex-guarded
// so one Session can back every resource of a client.
package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/libretto/internal/log"
	"github.com/tombee/libretto/internal/tracing"
	"github.com/tombee/libretto/pkg/auth"
	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

const tracerName = "github.com/tombee/libretto/pkg/session"

// Session executes requests for one client. It layers session defaults
// onto each request, applies auth, retries through the transport, absorbs
// response state, and records metrics.
type Session struct {
	name      string
	transport transport.Transport
	auth      auth.Strategy
	retry     *transport.RetryConfig
	timeout   time.Duration
	store     Store
	storeKey  string
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	mu      sync.Mutex
	headers map[string]string
	cookies map[string]string
}

// Options configure a Session beyond its declarative config.
type Options struct {
	// Name identifies the session in logs, metrics, and the default
	// persistence key. Usually the client name.
	Name string

	// Auth is the strategy applied to every request. Nil sends unsigned.
	Auth auth.Strategy

	// Transport overrides the HTTP transport built from the config.
	Transport transport.Transport

	// Retry overrides the retry policy built from the config.
	Retry *transport.RetryConfig

	// Logger receives session lifecycle and warning logs.
	Logger *slog.Logger

	// MeterProvider mirrors session metrics to OpenTelemetry.
	MeterProvider metric.MeterProvider

	// TracerProvider emits a span per Send.
	TracerProvider trace.TracerProvider
}

// Option mutates Options.
type Option func(*Options)

// WithName sets the session name.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithAuth sets the auth strategy.
func WithAuth(strategy auth.Strategy) Option {
	return func(o *Options) { o.Auth = strategy }
}

// WithTransport overrides the transport.
func WithTransport(t transport.Transport) Option {
	return func(o *Options) { o.Transport = t }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg *transport.RetryConfig) Option {
	return func(o *Options) { o.Retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMeterProvider mirrors metrics to the given provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) { o.MeterProvider = mp }
}

// WithTracerProvider emits spans through the given provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) { o.TracerProvider = tp }
}

// New builds a Session from the declarative config. A nil config uses
// defaults throughout. Persisted state, when configured, is restored
// before the first request.
func New(ctx context.Context, cfg *descriptor.SessionConfig, opts ...Option) (*Session, error) {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = log.Discard()
	}

	s := &Session{
		name:    o.Name,
		auth:    o.Auth,
		logger:  o.Logger,
		headers: map[string]string{},
		cookies: map[string]string{},
		tracer:  otel.GetTracerProvider().Tracer(tracerName),
	}
	if o.TracerProvider != nil {
		s.tracer = o.TracerProvider.Tracer(tracerName)
	}

	metrics, err := NewMetrics(o.MeterProvider, o.Name)
	if err != nil {
		return nil, err
	}
	s.metrics = metrics

	var retryCfg *descriptor.RetryConfig
	if cfg != nil {
		for k, v := range cfg.Headers {
			s.headers[k] = v
		}
		for k, v := range cfg.Cookies {
			s.cookies[k] = v
		}
		if cfg.Timeout > 0 {
			s.timeout = time.Duration(cfg.Timeout) * time.Second
		}
		retryCfg = cfg.Retry
	}

	s.retry = retryCfg.ToTransport()
	if cfg != nil && cfg.Retry == nil && cfg.MaxRetries > 0 {
		s.retry.MaxAttempts = cfg.MaxRetries + 1
	}
	if o.Retry != nil {
		s.retry = o.Retry
	}

	s.transport = o.Transport
	if s.transport == nil {
		httpCfg := &transport.HTTPConfig{Timeout: s.timeout}
		if cfg != nil {
			if cfg.Verify != nil && !*cfg.Verify {
				httpCfg.TLSInsecure = true
			}
			httpCfg.ProxyURL = cfg.Proxy
		}
		built, err := transport.NewHTTPTransport(httpCfg)
		if err != nil {
			return nil, &libretoerrors.ConfigError{
				Key:    "session",
				Reason: "failed to build transport",
				Cause:  err,
			}
		}
		s.transport = built
	}

	if cfg != nil && cfg.RateLimit != nil && cfg.RateLimit.RPS > 0 {
		s.transport.SetRateLimiter(
			transport.NewTokenBucketLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	if cfg != nil && cfg.Persist != nil {
		store, err := NewStore(cfg.Persist)
		if err != nil {
			return nil, err
		}
		s.store = store
		s.storeKey = cfg.Persist.Key
		if s.storeKey == "" {
			s.storeKey = o.Name
		}
		if s.storeKey == "" {
			s.storeKey = "default"
		}
		state, err := store.Load(ctx, s.storeKey)
		if err != nil {
			return nil, libretoerrors.Wrap(err, "failed to load persisted session state")
		}
		if state != nil {
			s.restore(state)
			s.logger.Debug("restored session state",
				"session", s.name, "key", s.storeKey, "updated_at", state.UpdatedAt)
		}
	}

	return s, nil
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Transport returns the underlying transport.
func (s *Session) Transport() transport.Transport { return s.transport }

// Auth returns the auth strategy, or nil.
func (s *Session) Auth() auth.Strategy { return s.auth }

// Metrics returns the session metrics.
func (s *Session) Metrics() *Metrics { return s.metrics }

// SetHeader sets a session default header.
func (s *Session) SetHeader(key, value string) {
	s.mu.Lock()
	s.headers[key] = value
	s.mu.Unlock()
}

// SetCookie sets a session default cookie.
func (s *Session) SetCookie(name, value string) {
	s.mu.Lock()
	s.cookies[name] = value
	s.mu.Unlock()
}

// Cookie returns a session cookie value.
func (s *Session) Cookie(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.cookies[name]
	return value, ok
}

// Send executes one request through the full pipeline: session defaults,
// auth, bounded retries, response handling, metrics, persistence. The
// response is returned alongside the error for non-2xx statuses so
// callers can inspect the failed exchange.
func (s *Session) Send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "session.send", trace.WithAttributes(
		attribute.String("session.name", s.name),
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
	))
	defer span.End()

	out := s.applyDefaults(req)

	prevToken := ""
	if s.auth != nil {
		prevToken, _ = s.auth.State().Token()
		prepared, err := s.auth.Prepare(ctx, out)
		if err != nil {
			s.metrics.Record(ctx, nil, err, time.Since(start))
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = prepared
		if tok, _ := s.auth.State().Token(); prevToken != "" && tok != prevToken {
			s.metrics.RecordAuthRefresh(ctx)
		}
	}

	retry := s.retry
	if out.Retry != nil {
		retry = out.Retry
	}

	ex := &log.Exchange{
		Method:    out.Method,
		URL:       out.RedactedURL(),
		RequestID: tracing.FromContextOrEmpty(ctx).String(),
	}
	if s.name != "" {
		ex.Metadata = map[string]any{"session": s.name}
	}
	attempt := 0
	resp, err := transport.Retry(ctx, retry, func(ctx context.Context) (*transport.Response, error) {
		attempt++
		ex.Attempt = attempt
		log.LogExchangeStart(ctx, s.logger, ex)
		began := time.Now()
		resp, err := s.transport.Execute(ctx, out)
		res := &log.ExchangeResult{DurationMs: time.Since(began).Milliseconds()}
		if err != nil {
			res.Error = err.Error()
		}
		if resp != nil {
			res.StatusCode = resp.StatusCode
			res.BodyBytes = len(resp.Body)
		}
		log.LogExchangeEnd(ctx, s.logger, ex, res)
		return resp, err
	})

	tokenChanged := false
	if s.auth != nil {
		if resp != nil {
			if herr := s.auth.Handle(ctx, resp); herr != nil {
				s.logger.Warn("auth response handling failed",
					"session", s.name, "error", herr)
			}
		}
		if tok, _ := s.auth.State().Token(); tok != prevToken {
			tokenChanged = true
		}
	}
	cookiesChanged := s.absorbCookies(resp)

	s.metrics.Record(ctx, resp, err, time.Since(start))

	if s.store != nil && (cookiesChanged || tokenChanged) {
		if perr := s.Persist(ctx); perr != nil {
			s.logger.Warn("failed to persist session state",
				"session", s.name, "error", perr)
		}
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if resp != nil {
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		}
		return resp, s.classify(err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

// Authenticate runs the strategy's upfront authentication and persists
// the resulting state when a store is configured.
func (s *Session) Authenticate(ctx context.Context) error {
	if s.auth == nil {
		return nil
	}
	if err := s.auth.Authenticate(ctx); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.Persist(ctx); err != nil {
			s.logger.Warn("failed to persist session state after authentication",
				"session", s.name, "error", err)
		}
	}
	return nil
}

// Persist saves the current session state to the configured store.
// Without a store it is a no-op.
func (s *Session) Persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(ctx, s.storeKey, s.snapshotState())
}

// Close persists state and releases store resources.
func (s *Session) Close(ctx context.Context) error {
	err := s.Persist(ctx)
	if closer, ok := s.store.(io.Closer); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// applyDefaults layers session headers, cookies, and timeout onto the
// request. Per-request values win; header conflicts compare
// case-insensitively.
func (s *Session) applyDefaults(req *transport.Request) *transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := req
	if len(s.headers) > 0 {
		missing := make(map[string]string)
		for key, value := range s.headers {
			if !hasHeader(req.Headers, key) {
				missing[key] = value
			}
		}
		if len(missing) > 0 {
			out = out.WithHeaders(missing)
		}
	}
	for name, value := range s.cookies {
		if _, ok := out.Cookies[name]; !ok {
			out = out.WithCookie(name, value)
		}
	}
	if out.Timeout == 0 && s.timeout > 0 {
		out = out.WithTimeout(s.timeout)
	}
	return out
}

// absorbCookies folds Set-Cookie response headers into the session
// cookies and reports whether anything changed.
func (s *Session) absorbCookies(resp *transport.Response) bool {
	if resp == nil {
		return false
	}
	cookies := (&http.Response{Header: resp.Headers}).Cookies()
	if len(cookies) == 0 {
		return false
	}

	now := time.Now()
	changed := false
	s.mu.Lock()
	for _, c := range cookies {
		expired := c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now))
		if expired || c.Value == "" {
			if _, ok := s.cookies[c.Name]; ok {
				delete(s.cookies, c.Name)
				changed = true
			}
			continue
		}
		if s.cookies[c.Name] != c.Value {
			s.cookies[c.Name] = c.Value
			changed = true
		}
	}
	s.mu.Unlock()
	return changed
}

// classify maps auth-typed transport failures onto the auth error type
// so callers can match with errors.IsAuth.
func (s *Session) classify(err error) error {
	var terr *transport.Error
	if s.auth != nil && libretoerrors.As(err, &terr) && terr.IsType(transport.ErrorTypeAuth) {
		return &libretoerrors.AuthError{
			Strategy:   s.auth.Name(),
			StatusCode: terr.StatusCode,
			Message:    terr.Message,
			Cause:      terr,
		}
	}
	return err
}

// snapshotState captures headers, cookies, and auth token for persistence.
func (s *Session) snapshotState() *State {
	s.mu.Lock()
	state := &State{
		Headers:   make(map[string]string, len(s.headers)),
		Cookies:   make(map[string]string, len(s.cookies)),
		UpdatedAt: time.Now().UTC(),
	}
	for k, v := range s.headers {
		state.Headers[k] = v
	}
	for k, v := range s.cookies {
		state.Cookies[k] = v
	}
	s.mu.Unlock()

	if s.auth != nil {
		state.Token, state.TokenExpiry = s.auth.State().Token()
	}
	return state
}

// restore applies persisted state. Cookies are runtime state, so
// persisted values win; configured headers win over persisted ones. A
// persisted unexpired token is handed back to the auth strategy.
func (s *Session) restore(state *State) {
	s.mu.Lock()
	for k, v := range state.Headers {
		if _, ok := s.headers[k]; !ok {
			s.headers[k] = v
		}
	}
	for k, v := range state.Cookies {
		s.cookies[k] = v
	}
	s.mu.Unlock()

	if s.auth != nil && state.Token != "" {
		if state.TokenExpiry.IsZero() || time.Now().Before(state.TokenExpiry) {
			s.auth.State().SetToken(state.Token, state.TokenExpiry)
		}
	}
}

// hasHeader reports whether the header map holds the key, compared
// case-insensitively the way HTTP headers are.
func hasHeader(headers map[string]string, key string) bool {
	for k := range headers {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
