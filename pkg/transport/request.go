package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Request is a transport-agnostic request under construction.
//
// Requests are immutable by convention: the With* modifiers return a clone
// and never touch the receiver, so a half-built request can be safely reused
// as a template. Prepare finalizes the request exactly once.
type Request struct {
	// Method is the HTTP method (GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS)
	Method string

	// BaseURL is the scheme://host[/prefix] part of the target
	BaseURL string

	// Path is the resource path joined onto BaseURL
	Path string

	// Params become the encoded query string. Slice values repeat the key.
	Params map[string]any

	// Headers are request headers (case-insensitive on the wire)
	Headers map[string]string

	// Cookies are sent as Cookie header pairs
	Cookies map[string]string

	// Body is the request payload. []byte and string pass through verbatim,
	// anything else is JSON-encoded during Prepare.
	Body any

	// Timeout overrides the transport default for this request when > 0
	Timeout time.Duration

	// Retry overrides the transport retry policy for this request when set
	Retry *RetryConfig

	// Metadata carries transport- and protocol-specific data
	Metadata map[string]any

	prepared bool
	finalURL string
	rawBody  []byte
}

// NewRequest creates a request with the given method, base URL, and path.
func NewRequest(method, baseURL, path string) *Request {
	return &Request{
		Method:  strings.ToUpper(method),
		BaseURL: baseURL,
		Path:    path,
	}
}

// Clone returns a deep copy of the request. Prepared state is not carried
// over: the clone must be prepared again before sending.
func (r *Request) Clone() *Request {
	clone := &Request{
		Method:  r.Method,
		BaseURL: r.BaseURL,
		Path:    r.Path,
		Body:    r.Body,
		Timeout: r.Timeout,
		Retry:   r.Retry,
	}
	if r.Params != nil {
		clone.Params = make(map[string]any, len(r.Params))
		for k, v := range r.Params {
			clone.Params[k] = v
		}
	}
	if r.Headers != nil {
		clone.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			clone.Headers[k] = v
		}
	}
	if r.Cookies != nil {
		clone.Cookies = make(map[string]string, len(r.Cookies))
		for k, v := range r.Cookies {
			clone.Cookies[k] = v
		}
	}
	if r.Metadata != nil {
		clone.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// WithMethod returns a clone with the method replaced.
func (r *Request) WithMethod(method string) *Request {
	clone := r.Clone()
	clone.Method = strings.ToUpper(method)
	return clone
}

// WithPath returns a clone with the path replaced.
func (r *Request) WithPath(path string) *Request {
	clone := r.Clone()
	clone.Path = path
	return clone
}

// WithParam returns a clone with one query parameter added.
func (r *Request) WithParam(key string, value any) *Request {
	clone := r.Clone()
	if clone.Params == nil {
		clone.Params = make(map[string]any)
	}
	clone.Params[key] = value
	return clone
}

// WithParams returns a clone with the given parameters merged in.
// Incoming keys win on conflict.
func (r *Request) WithParams(params map[string]any) *Request {
	clone := r.Clone()
	if clone.Params == nil {
		clone.Params = make(map[string]any, len(params))
	}
	for k, v := range params {
		clone.Params[k] = v
	}
	return clone
}

// WithHeader returns a clone with one header set.
func (r *Request) WithHeader(key, value string) *Request {
	clone := r.Clone()
	if clone.Headers == nil {
		clone.Headers = make(map[string]string)
	}
	clone.Headers[key] = value
	return clone
}

// WithHeaders returns a clone with the given headers merged in.
// Incoming keys win on conflict.
func (r *Request) WithHeaders(headers map[string]string) *Request {
	clone := r.Clone()
	if clone.Headers == nil {
		clone.Headers = make(map[string]string, len(headers))
	}
	for k, v := range headers {
		clone.Headers[k] = v
	}
	return clone
}

// WithCookie returns a clone with one cookie set.
func (r *Request) WithCookie(name, value string) *Request {
	clone := r.Clone()
	if clone.Cookies == nil {
		clone.Cookies = make(map[string]string)
	}
	clone.Cookies[name] = value
	return clone
}

// WithBody returns a clone with the body replaced.
func (r *Request) WithBody(body any) *Request {
	clone := r.Clone()
	clone.Body = body
	return clone
}

// WithTimeout returns a clone with the per-request timeout set.
func (r *Request) WithTimeout(timeout time.Duration) *Request {
	clone := r.Clone()
	clone.Timeout = timeout
	return clone
}

// WithRetry returns a clone with a request-level retry policy. The session
// prefers it over its own policy when sending.
func (r *Request) WithRetry(cfg *RetryConfig) *Request {
	clone := r.Clone()
	clone.Retry = cfg
	return clone
}

// WithMetadata returns a clone with one metadata entry set.
func (r *Request) WithMetadata(key string, value any) *Request {
	clone := r.Clone()
	if clone.Metadata == nil {
		clone.Metadata = make(map[string]any)
	}
	clone.Metadata[key] = value
	return clone
}

// URL joins BaseURL and Path without the query string.
func (r *Request) URL() (string, error) {
	if r.BaseURL == "" {
		return "", fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", r.BaseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base URL %q must include scheme and host", r.BaseURL)
	}
	u.Path = joinPath(u.Path, r.Path)
	return u.String(), nil
}

// Prepare finalizes the request: resolves the full URL with the encoded
// query string, encodes the body, applies default Content-Type and Accept
// headers, and strips newline characters from header values.
//
// Prepare is idempotent. The first call finalizes the request in place and
// every later call returns the same instance unchanged.
func (r *Request) Prepare() (*Request, error) {
	if r.prepared {
		return r, nil
	}

	if r.Method == "" {
		return nil, &Error{
			Type:    ErrorTypeInvalidRequest,
			Message: "method is required",
		}
	}

	base, err := r.URL()
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeInvalidRequest,
			Message: err.Error(),
			Cause:   err,
		}
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, &Error{
			Type:    ErrorTypeInvalidRequest,
			Message: fmt.Sprintf("invalid URL %q: %s", base, err),
			Cause:   err,
		}
	}
	query := u.Query()
	if err := encodeParams(query, r.Params); err != nil {
		return nil, &Error{
			Type:    ErrorTypeInvalidRequest,
			Message: err.Error(),
			Cause:   err,
		}
	}
	u.RawQuery = query.Encode()
	r.finalURL = u.String()

	if r.Body != nil {
		raw, contentType, err := encodeBody(r.Body)
		if err != nil {
			return nil, &Error{
				Type:    ErrorTypeInvalidRequest,
				Message: fmt.Sprintf("failed to encode request body: %s", err),
				Cause:   err,
			}
		}
		r.rawBody = raw
		if r.Headers == nil {
			r.Headers = make(map[string]string)
		}
		if _, ok := headerValue(r.Headers, "Content-Type"); !ok {
			r.Headers["Content-Type"] = contentType
		}
	}

	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	if _, ok := headerValue(r.Headers, "Accept"); !ok {
		r.Headers["Accept"] = "application/json"
	}
	for k, v := range r.Headers {
		r.Headers[k] = sanitizeHeaderValue(v)
	}

	r.prepared = true
	return r, nil
}

// Prepared reports whether Prepare has run.
func (r *Request) Prepared() bool {
	return r.prepared
}

// FinalURL returns the fully resolved URL including the query string.
// Empty until Prepare has run.
func (r *Request) FinalURL() string {
	return r.finalURL
}

// RawBody returns the encoded body bytes. Nil until Prepare has run or when
// the request has no body.
func (r *Request) RawBody() []byte {
	return r.rawBody
}

// CookieNames returns cookie names in sorted order for deterministic sending.
func (r *Request) CookieNames() []string {
	names := make([]string, 0, len(r.Cookies))
	for name := range r.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// joinPath joins two URL path fragments with exactly one slash between them.
func joinPath(base, path string) string {
	switch {
	case path == "":
		return base
	case base == "":
		if !strings.HasPrefix(path, "/") {
			return "/" + path
		}
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// encodeParams folds Params into url.Values. Slice values repeat the key,
// nil values are dropped.
func encodeParams(query url.Values, params map[string]any) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := params[k]
		if v == nil {
			continue
		}
		switch vv := v.(type) {
		case []string:
			for _, item := range vv {
				query.Add(k, item)
			}
		case []any:
			for _, item := range vv {
				s, err := paramString(item)
				if err != nil {
					return fmt.Errorf("parameter %q: %w", k, err)
				}
				query.Add(k, s)
			}
		default:
			s, err := paramString(v)
			if err != nil {
				return fmt.Errorf("parameter %q: %w", k, err)
			}
			query.Add(k, s)
		}
	}
	return nil
}

// paramString renders a single query parameter value.
func paramString(v any) (string, error) {
	switch vv := v.(type) {
	case string:
		return vv, nil
	case fmt.Stringer:
		return vv.String(), nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return fmt.Sprintf("%v", vv), nil
	default:
		raw, err := json.Marshal(vv)
		if err != nil {
			return "", fmt.Errorf("value of type %T is not encodable: %w", v, err)
		}
		return string(raw), nil
	}
}

// encodeBody renders the body to bytes and picks a default content type.
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case []byte:
		return b, "application/octet-stream", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	case json.RawMessage:
		return b, "application/json", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return raw, "application/json", nil
	}
}

// headerValue looks a header up case-insensitively.
func headerValue(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// sanitizeHeaderValue strips CR and LF to prevent header injection.
func sanitizeHeaderValue(v string) string {
	if !strings.ContainsAny(v, "\r\n") {
		return v
	}
	v = strings.ReplaceAll(v, "\r", "")
	return strings.ReplaceAll(v, "\n", "")
}
