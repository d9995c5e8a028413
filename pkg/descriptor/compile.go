package descriptor

import (
	"fmt"
	"log/slog"
	"strings"

	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/param"
	"github.com/tombee/libretto/pkg/transform"
)

var validHTTPMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {}, "HEAD": {}, "OPTIONS": {},
}

var validAuthTypes = map[string]struct{}{
	"api_key": {}, "basic": {}, "bearer": {}, "oauth2": {},
	"jwt_bearer": {}, "dpop": {}, "session_cookie": {}, "sigv4": {},
}

var validPageStrategies = map[string]struct{}{
	"params": {}, "link": {}, "cursor": {},
}

// Compiled is a validated, linked descriptor tree ready for pkg/client.
type Compiled struct {
	client *ClientDescriptor
}

// Client returns the compiled descriptor root.
func (c *Compiled) Client() *ClientDescriptor { return c.client }

// SetLogger injects a logger into every built payload parameter that does
// not carry one, so coercion warnings surface through the client's logger.
func (c *Compiled) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	var walk func(resources []*ResourceDescriptor)
	walk = func(resources []*ResourceDescriptor) {
		for _, r := range resources {
			for _, m := range r.Methods {
				if m.Payload == nil {
					continue
				}
				for _, field := range m.Payload.Fields {
					switch f := field.(type) {
					case *param.Parameter:
						if f.Logger == nil {
							f.Logger = logger
						}
					case *param.ConditionalParameter:
						if f.Logger == nil {
							f.Logger = logger
						}
					}
				}
			}
			walk(r.Resources)
		}
	}
	walk(c.client.Resources)
}

// Compile validates and links the descriptor tree: names are defaulted to
// their lower-cased form and checked for duplicates, parent chains are
// wired, metadata is merged down the hierarchy, YAML payloads and
// transforms are built, and protocol/auth/session settings are checked.
// Compiling twice returns the same result.
func (d *ClientDescriptor) Compile() (*Compiled, error) {
	if d.compiled != nil {
		return d.compiled, nil
	}

	d.Name = strings.ToLower(strings.TrimSpace(d.Name))
	if d.Name == "" {
		return nil, &libretoerrors.ValidationError{
			Field:      "name",
			Message:    "client name is required",
			Suggestion: "add a name to the client definition",
		}
	}

	if err := validateProtocol(d.Protocol); err != nil {
		return nil, err
	}
	if err := validateAuth(d.Auth); err != nil {
		return nil, err
	}
	if err := validateSession(d.Session); err != nil {
		return nil, err
	}
	for i := range d.Transforms {
		if err := validateTransform(&d.Transforms[i]); err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
	}

	d.meta = NewStore(d.Metadata)

	if len(d.Resources) == 0 {
		return nil, &libretoerrors.ValidationError{
			Field:      "resources",
			Message:    "client must declare at least one resource",
			Suggestion: "add a resources block to the definition",
		}
	}

	if err := compileResources(d, nil, d.Resources, d.meta); err != nil {
		return nil, err
	}

	d.compiled = &Compiled{client: d}
	return d.compiled, nil
}

func compileResources(client *ClientDescriptor, parent *ResourceDescriptor, resources []*ResourceDescriptor, parentMeta *Store) error {
	seen := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		r.Name = strings.ToLower(strings.TrimSpace(r.Name))
		if r.Name == "" {
			return &libretoerrors.ValidationError{
				Field:      "name",
				Message:    "resource name is required",
				Suggestion: "give every resource a name",
			}
		}
		if _, dup := seen[r.Name]; dup {
			return &libretoerrors.ValidationError{
				Field:   "name",
				Message: fmt.Sprintf("duplicate resource name: %s", r.Name),
			}
		}
		seen[r.Name] = struct{}{}

		if err := validateProtocol(r.Protocol); err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}

		r.client = client
		r.parent = parent
		r.meta = inheritStore(parentMeta, r.Metadata)

		if err := compileMethods(r); err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}
		if err := compileResources(client, r, r.Resources, r.meta); err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}
	}
	return nil
}

func compileMethods(r *ResourceDescriptor) error {
	seen := make(map[string]struct{}, len(r.Methods))
	for _, m := range r.Methods {
		m.Name = strings.ToLower(strings.TrimSpace(m.Name))
		if m.Name == "" {
			return &libretoerrors.ValidationError{
				Field:      "name",
				Message:    "method name is required",
				Suggestion: "give every method a name",
			}
		}
		if _, dup := seen[m.Name]; dup {
			return &libretoerrors.ValidationError{
				Field:   "name",
				Message: fmt.Sprintf("duplicate method name: %s", m.Name),
			}
		}
		seen[m.Name] = struct{}{}

		m.resource = r

		if err := validateProtocol(m.Protocol); err != nil {
			return fmt.Errorf("method %s: %w", m.Name, err)
		}

		proto := m.EffectiveProtocol().Type
		m.HTTPMethod = strings.ToUpper(strings.TrimSpace(m.HTTPMethod))
		if m.HTTPMethod == "" {
			if proto == ProtocolGraphQL || proto == ProtocolAlgolia {
				m.HTTPMethod = "POST"
			} else {
				return &libretoerrors.ValidationError{
					Field:      "http_method",
					Message:    fmt.Sprintf("method %s has no HTTP method", m.Name),
					Suggestion: "set http_method to GET, POST, PUT, PATCH, DELETE, HEAD, or OPTIONS",
				}
			}
		}
		if _, ok := validHTTPMethods[m.HTTPMethod]; !ok {
			return &libretoerrors.ValidationError{
				Field:   "http_method",
				Message: fmt.Sprintf("method %s has invalid HTTP method %q", m.Name, m.HTTPMethod),
			}
		}

		if proto == ProtocolGraphQL && m.Query == "" {
			return &libretoerrors.ValidationError{
				Field:      "query",
				Message:    fmt.Sprintf("graphql method %s has no query document", m.Name),
				Suggestion: "add a query field with the GraphQL document",
			}
		}

		if m.Extract != "" {
			if err := descriptorJQ.Validate(m.Extract); err != nil {
				return &libretoerrors.ConfigError{
					Key:    "extract",
					Reason: fmt.Sprintf("method %s: invalid jq expression", m.Name),
					Cause:  err,
				}
			}
		}

		if err := validatePage(m.Page); err != nil {
			return fmt.Errorf("method %s: %w", m.Name, err)
		}

		if m.Payload == nil && m.PayloadConfig != nil {
			built, err := m.PayloadConfig.Build()
			if err != nil {
				return fmt.Errorf("method %s: %w", m.Name, err)
			}
			m.Payload = built
		}

		m.meta = inheritStore(r.meta, m.Metadata)
	}
	return nil
}

func validateProtocol(p *ProtocolConfig) error {
	if p == nil {
		return nil
	}
	switch p.Type {
	case "", ProtocolREST, ProtocolGraphQL, ProtocolAlgolia:
	default:
		return &libretoerrors.ValidationError{
			Field:      "protocol.type",
			Message:    fmt.Sprintf("unknown protocol %q", p.Type),
			Suggestion: "use rest, graphql, or algolia",
		}
	}
	if p.Method != "" {
		if _, ok := validHTTPMethods[strings.ToUpper(p.Method)]; !ok {
			return &libretoerrors.ValidationError{
				Field:   "protocol.method",
				Message: fmt.Sprintf("invalid HTTP method %q", p.Method),
			}
		}
	}
	return nil
}

func validateAuth(a *AuthConfig) error {
	if a == nil {
		return nil
	}
	if a.Type == "" {
		return &libretoerrors.ConfigError{
			Key:    "auth.type",
			Reason: "auth block requires a type",
		}
	}
	if _, ok := validAuthTypes[a.Type]; !ok {
		return &libretoerrors.ConfigError{
			Key:    "auth.type",
			Reason: fmt.Sprintf("unknown auth type %q", a.Type),
		}
	}
	return nil
}

func validateSession(s *SessionConfig) error {
	if s == nil {
		return nil
	}
	if s.RateLimit != nil && s.RateLimit.RPS <= 0 {
		return &libretoerrors.ConfigError{
			Key:    "session.rate_limit.rps",
			Reason: "rate limit rps must be positive",
		}
	}
	if s.Retry != nil && s.Retry.MaxAttempts < 1 {
		return &libretoerrors.ConfigError{
			Key:    "session.retry.max_attempts",
			Reason: "retry max_attempts must be at least 1",
		}
	}
	if s.Persist != nil {
		switch s.Persist.Backend {
		case "file", "sqlite":
			if s.Persist.Path == "" {
				return &libretoerrors.ConfigError{
					Key:    "session.persist.path",
					Reason: fmt.Sprintf("%s persistence requires a path", s.Persist.Backend),
				}
			}
		case "keyring":
		default:
			return &libretoerrors.ConfigError{
				Key:    "session.persist.backend",
				Reason: fmt.Sprintf("unknown persistence backend %q", s.Persist.Backend),
			}
		}
	}
	return nil
}

func validatePage(p *PageConfig) error {
	if p == nil {
		return nil
	}
	if _, ok := validPageStrategies[p.Strategy]; !ok {
		return &libretoerrors.ValidationError{
			Field:      "page.strategy",
			Message:    fmt.Sprintf("unknown pagination strategy %q", p.Strategy),
			Suggestion: "use params, link, or cursor",
		}
	}
	switch p.Strategy {
	case "params":
		if p.PageParam == "" {
			p.PageParam = "page"
		}
		if p.StartPage == 0 {
			p.StartPage = 1
		}
	case "cursor":
		if p.CursorParam == "" || p.CursorPath == "" {
			return &libretoerrors.ValidationError{
				Field:   "page",
				Message: "cursor pagination requires cursor_param and cursor_path",
			}
		}
		if err := descriptorJQ.Validate(p.CursorPath); err != nil {
			return &libretoerrors.ConfigError{
				Key:    "page.cursor_path",
				Reason: "invalid jq expression",
				Cause:  err,
			}
		}
	}
	if p.ItemsPath != "" {
		if err := descriptorJQ.Validate(p.ItemsPath); err != nil {
			return &libretoerrors.ConfigError{
				Key:    "page.items_path",
				Reason: "invalid jq expression",
				Cause:  err,
			}
		}
	}
	return nil
}

func validateTransform(tc *TransformConfig) error {
	switch transform.Category(tc.Category) {
	case "", transform.CategoryPayload, transform.CategoryURL, transform.CategoryParams,
		transform.CategoryHeaders, transform.CategoryCookies, transform.CategoryCustom:
	default:
		return &libretoerrors.ValidationError{
			Field:   "category",
			Message: fmt.Sprintf("unknown transform category %q", tc.Category),
		}
	}
	switch transform.Mode(tc.Mode) {
	case "", transform.ModeUpdate, transform.ModeNestedOnly, transform.ModeRootOnly:
	default:
		return &libretoerrors.ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("unknown transform mode %q", tc.Mode),
		}
	}
	if tc.JQ != "" {
		if err := descriptorJQ.Validate(tc.JQ); err != nil {
			return &libretoerrors.ConfigError{
				Key:    "jq",
				Reason: "invalid jq expression",
				Cause:  err,
			}
		}
	}
	return nil
}

// Build turns the config into a pipeline transform: a jq transform when
// JQ is set, otherwise a payload merge transform.
func (tc *TransformConfig) Build() (transform.Transform, error) {
	if err := validateTransform(tc); err != nil {
		return nil, err
	}
	meta := transform.Meta{
		Label:    tc.Name,
		Category: transform.Category(tc.Category),
		Op:       transform.Op(tc.Op),
		Target:   tc.Target,
		Seq:      tc.Order,
	}
	if tc.JQ != "" {
		return &transform.JQ{Meta: meta, Expression: tc.JQ}, nil
	}
	return &transform.PayloadTransform{
		Meta:   meta,
		Mode:   transform.Mode(tc.Mode),
		Values: tc.Values,
	}, nil
}
