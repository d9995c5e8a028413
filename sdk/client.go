package sdk

import (
	"fmt"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
)

// FieldType names a payload field's expected type.
type FieldType string

const (
	TypeAny     FieldType = "any"
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// ClientBuilder assembles a client descriptor through chained calls.
// Mistakes made while chaining are collected and reported by Build.
type ClientBuilder struct {
	desc *descriptor.ClientDescriptor
	errs []error
}

// NewClient starts a client definition. The builder produces the same
// descriptor tree the YAML loader does, so programmatic and declarative
// definitions compile and run identically.
//
// Example:
//
//	desc, err := sdk.NewClient("shop").
//		BaseURL("https://api.shop.example").
//		Resource("products").
//			Method("list").Get("").Done().
//			Method("get").Get("{id}").Done().
//			Done().
//		Build()
func NewClient(name string) *ClientBuilder {
	return &ClientBuilder{
		desc: &descriptor.ClientDescriptor{Name: name},
	}
}

// BaseURL sets the default base URL for every resource.
func (b *ClientBuilder) BaseURL(url string) *ClientBuilder {
	b.desc.BaseURL = url
	return b
}

// Meta sets one metadata key. Resources and methods inherit it; their
// own keys win.
func (b *ClientBuilder) Meta(key string, value any) *ClientBuilder {
	if b.desc.Metadata == nil {
		b.desc.Metadata = make(map[string]any)
	}
	b.desc.Metadata[key] = value
	return b
}

// Protocol sets the default wire protocol. Unset defaults to rest.
//
// Example:
//
//	sdk.NewClient("catalog").
//		Protocol(descriptor.ProtocolGraphQL)
func (b *ClientBuilder) Protocol(p descriptor.Protocol) *ClientBuilder {
	if b.desc.Protocol == nil {
		b.desc.Protocol = &descriptor.ProtocolConfig{}
	}
	b.desc.Protocol.Type = p
	return b
}

// Header adds a default header sent with every request. Per-request
// headers win on collision.
func (b *ClientBuilder) Header(name, value string) *ClientBuilder {
	s := b.session()
	if s.Headers == nil {
		s.Headers = make(map[string]string)
	}
	s.Headers[name] = value
	return b
}

// Cookie adds a default cookie sent with every request.
func (b *ClientBuilder) Cookie(name, value string) *ClientBuilder {
	s := b.session()
	if s.Cookies == nil {
		s.Cookies = make(map[string]string)
	}
	s.Cookies[name] = value
	return b
}

// Timeout sets the default per-request timeout in seconds.
func (b *ClientBuilder) Timeout(seconds int) *ClientBuilder {
	b.session().Timeout = seconds
	return b
}

// MaxRetries caps retry attempts using the default backoff policy. Use
// RetryPolicy for full control.
func (b *ClientBuilder) MaxRetries(n int) *ClientBuilder {
	b.session().MaxRetries = n
	return b
}

// RetryPolicy sets the session retry policy.
//
// Example:
//
//	.RetryPolicy(descriptor.RetryConfig{
//		MaxAttempts:    5,
//		InitialBackoff: 2,
//		BackoffFactor:  2,
//	})
func (b *ClientBuilder) RetryPolicy(cfg descriptor.RetryConfig) *ClientBuilder {
	rc := cfg
	b.session().Retry = &rc
	return b
}

// RateLimit bounds the request rate to rps sustained requests per
// second with the given burst.
func (b *ClientBuilder) RateLimit(rps float64, burst int) *ClientBuilder {
	b.session().RateLimit = &descriptor.RateLimitConfig{RPS: rps, Burst: burst}
	return b
}

// Persist stores session state (cookies, auth token) in the given
// backend between runs. Backend is file, keyring, or sqlite; path
// applies to the file and sqlite backends.
func (b *ClientBuilder) Persist(backend, path string) *ClientBuilder {
	b.session().Persist = &descriptor.PersistConfig{Backend: backend, Path: path}
	return b
}

// APIKey authenticates every request with a static key. Field names the
// header, query parameter, or cookie carrying the key; placement is
// header, query, or cookie.
//
// Example:
//
//	sdk.NewClient("shop").
//		APIKey(os.Getenv("SHOP_KEY"), "X-API-Key", "header")
func (b *ClientBuilder) APIKey(key, field, placement string) *ClientBuilder {
	b.desc.Auth = &descriptor.AuthConfig{
		Type:      "api_key",
		APIKey:    key,
		Field:     field,
		Placement: placement,
	}
	return b
}

// BasicAuth authenticates with a username and password.
func (b *ClientBuilder) BasicAuth(username, password string) *ClientBuilder {
	b.desc.Auth = &descriptor.AuthConfig{
		Type:     "basic",
		Username: username,
		Password: password,
	}
	return b
}

// BearerToken authenticates with a static bearer token. Credential
// fields accept literals, ${ENV} references, and secret://name
// references.
func (b *ClientBuilder) BearerToken(token string) *ClientBuilder {
	b.desc.Auth = &descriptor.AuthConfig{
		Type:  "bearer",
		Token: token,
	}
	return b
}

// OAuth2 authenticates with the client credentials flow, fetching and
// refreshing tokens from tokenURL.
func (b *ClientBuilder) OAuth2(clientID, clientSecret, tokenURL string, scopes ...string) *ClientBuilder {
	b.desc.Auth = &descriptor.AuthConfig{
		Type:         "oauth2",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return b
}

// Auth sets the full auth configuration for strategies the helpers do
// not cover (jwt_bearer, dpop, session_cookie, sigv4).
//
// Example:
//
//	.Auth(descriptor.AuthConfig{
//		Type:    "sigv4",
//		Region:  "us-east-1",
//		Service: "execute-api",
//	})
func (b *ClientBuilder) Auth(cfg descriptor.AuthConfig) *ClientBuilder {
	ac := cfg
	b.desc.Auth = &ac
	return b
}

// Transform appends a transform to the request pipeline. Transforms run
// ordered by their Order field; lower runs first.
func (b *ClientBuilder) Transform(cfg descriptor.TransformConfig) *ClientBuilder {
	b.desc.Transforms = append(b.desc.Transforms, cfg)
	return b
}

// Resource adds a top-level resource. Its URL fragment defaults to the
// name as given; override it with Path.
func (b *ClientBuilder) Resource(name string) *ResourceBuilder {
	res := &descriptor.ResourceDescriptor{Name: name, Path: name}
	b.desc.Resources = append(b.desc.Resources, res)
	return &ResourceBuilder{root: b, res: res}
}

// Build validates the definition and returns the compiled descriptor,
// ready for client.New. Errors recorded while chaining are reported
// first, then compile errors.
func (b *ClientBuilder) Build() (*descriptor.ClientDescriptor, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if _, err := b.desc.Compile(); err != nil {
		return nil, err
	}
	return b.desc, nil
}

func (b *ClientBuilder) session() *descriptor.SessionConfig {
	if b.desc.Session == nil {
		b.desc.Session = &descriptor.SessionConfig{}
	}
	return b.desc.Session
}

func (b *ClientBuilder) recordf(field, format string, args ...any) {
	b.errs = append(b.errs, &libretoerrors.ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}
