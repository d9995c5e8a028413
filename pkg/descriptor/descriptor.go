// Package descriptor defines the declarative client model: a tree of
// resources and methods plus auth, session, protocol, and transform
// configuration. Descriptors are built in Go or parsed from YAML, then
// compiled once into a validated, linked form that pkg/client executes.
//
// Compilation replaces definition-time attribute harvesting with an
// explicit step: it validates the tree, links parent chains, defaults
// names, merges metadata down the hierarchy, and builds payloads from
// their YAML form. Problems surface at compile time, not on first use.
package descriptor

import (
	"context"
	"time"

	"github.com/tombee/libretto/pkg/param"
	"github.com/tombee/libretto/pkg/transport"
)

// Protocol selects how a method's payload is shaped onto the wire.
type Protocol string

const (
	// ProtocolREST routes the payload to query params or JSON body by
	// HTTP method
	ProtocolREST Protocol = "rest"

	// ProtocolGraphQL posts {query, variables} to the base endpoint
	ProtocolGraphQL Protocol = "graphql"

	// ProtocolAlgolia posts a form-encoded params string to the Algolia
	// query endpoint with X-Algolia-* headers
	ProtocolAlgolia Protocol = "algolia"
)

// RequestHook runs between request construction and sending.
type RequestHook func(ctx context.Context, req *transport.Request) (*transport.Request, error)

// ResponseHook runs after the response is received and extracted.
type ResponseHook func(ctx context.Context, resp *transport.Response) (*transport.Response, error)

// ClientDescriptor is the root of a declarative client definition.
type ClientDescriptor struct {
	// Name identifies the client
	Name string `yaml:"name" json:"name"`

	// BaseURL is the default base URL for every resource that does not
	// override it
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Metadata holds free-form values inherited by every resource and
	// method (child keys win)
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Auth configures the authentication strategy shared by all resources
	Auth *AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`

	// Session configures the shared session (headers, retry, rate limit,
	// persistence)
	Session *SessionConfig `yaml:"session,omitempty" json:"session,omitempty"`

	// Protocol sets the default wire protocol (rest when empty)
	Protocol *ProtocolConfig `yaml:"protocol,omitempty" json:"protocol,omitempty"`

	// Transforms configure the request-level transform pipeline
	Transforms []TransformConfig `yaml:"transforms,omitempty" json:"transforms,omitempty"`

	// Resources are the top-level resource definitions
	Resources []*ResourceDescriptor `yaml:"resources" json:"resources"`

	compiled *Compiled
	meta     *Store
}

// ResourceDescriptor is one node in the resource tree. Its path fragment
// joins with its ancestors' fragments to form request paths.
type ResourceDescriptor struct {
	// Name identifies the resource; lookups use the lower-cased form
	Name string `yaml:"name" json:"name"`

	// Path is this node's URL fragment; empty fragments are skipped when
	// resolving the full path
	Path string `yaml:"path" json:"path"`

	// BaseURL overrides the client base URL for this subtree
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Metadata merges over inherited metadata; own keys win
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Protocol overrides the inherited protocol for this subtree
	Protocol *ProtocolConfig `yaml:"protocol,omitempty" json:"protocol,omitempty"`

	// Methods are the operations this resource exposes
	Methods []*MethodDescriptor `yaml:"methods,omitempty" json:"methods,omitempty"`

	// Resources are nested child resources
	Resources []*ResourceDescriptor `yaml:"resources,omitempty" json:"resources,omitempty"`

	parent *ResourceDescriptor
	client *ClientDescriptor
	meta   *Store
}

// MethodDescriptor is one callable operation on a resource.
type MethodDescriptor struct {
	// Name identifies the method; lookups use the lower-cased form
	Name string `yaml:"name" json:"name"`

	// HTTPMethod is the verb (GET, POST, ...)
	HTTPMethod string `yaml:"http_method" json:"http_method"`

	// Path is the method's own fragment, appended to the resource path;
	// {placeholder} segments are substituted from call arguments
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Payload is the programmatic payload declaration. It wins over
	// PayloadConfig when both are set.
	Payload *param.Payload `yaml:"-" json:"-"`

	// PayloadConfig is the YAML form of the payload, built into Payload
	// at compile time
	PayloadConfig *PayloadConfig `yaml:"payload,omitempty" json:"payload,omitempty"`

	// Protocol overrides the protocol for this method only
	Protocol *ProtocolConfig `yaml:"protocol,omitempty" json:"protocol,omitempty"`

	// Query is the GraphQL document for graphql-protocol methods
	Query string `yaml:"query,omitempty" json:"query,omitempty"`

	// Extract is a jq expression applied to the response JSON; the result
	// lands in Response.Metadata under "extracted"
	Extract string `yaml:"extract,omitempty" json:"extract,omitempty"`

	// Page configures pagination for Pages iteration
	Page *PageConfig `yaml:"page,omitempty" json:"page,omitempty"`

	// Pre runs after request construction, before sending
	Pre RequestHook `yaml:"-" json:"-"`

	// Post runs on the response after extraction
	Post ResponseHook `yaml:"-" json:"-"`

	// Timeout bounds the request in seconds (0 uses the session default)
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retry overrides the session retry policy for this method
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Metadata merges over the owning resource's metadata
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	resource *ResourceDescriptor
	meta     *Store
}

// ProtocolConfig selects the wire protocol and optionally pins the HTTP
// method regardless of the per-method verb.
type ProtocolConfig struct {
	// Type is rest, graphql, or algolia
	Type Protocol `yaml:"type" json:"type"`

	// Method overrides the HTTP verb for every request under this config
	Method string `yaml:"method,omitempty" json:"method,omitempty"`
}

// SessionConfig shapes the shared session.
type SessionConfig struct {
	// Headers are sent with every request; per-request headers win
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Cookies are sent with every request; per-request cookies win
	Cookies map[string]string `yaml:"cookies,omitempty" json:"cookies,omitempty"`

	// Timeout is the default per-request timeout in seconds
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Verify toggles TLS certificate verification (nil means on)
	Verify *bool `yaml:"verify,omitempty" json:"verify,omitempty"`

	// Proxy is the proxy URL; empty uses the environment
	Proxy string `yaml:"proxy,omitempty" json:"proxy,omitempty"`

	// MaxRetries caps retry attempts when no Retry block is given
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// Retry is the full retry policy
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`

	// RateLimit bounds outgoing request rate
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`

	// Persist configures session state persistence
	Persist *PersistConfig `yaml:"persist,omitempty" json:"persist,omitempty"`
}

// RetryConfig is the YAML-facing retry policy. Durations are whole
// seconds; ToTransport converts to the wire-layer config.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialBackoff is the first backoff delay in seconds
	InitialBackoff int `yaml:"initial_backoff,omitempty" json:"initial_backoff,omitempty"`

	// MaxBackoff caps the backoff delay in seconds
	MaxBackoff int `yaml:"max_backoff,omitempty" json:"max_backoff,omitempty"`

	// BackoffFactor multiplies the delay between attempts
	BackoffFactor float64 `yaml:"backoff_factor,omitempty" json:"backoff_factor,omitempty"`

	// RetryableStatus lists HTTP status codes worth retrying
	RetryableStatus []int `yaml:"retryable_status,omitempty" json:"retryable_status,omitempty"`
}

// ToTransport converts to the transport retry config, filling unset
// values from the transport defaults.
func (r *RetryConfig) ToTransport() *transport.RetryConfig {
	out := transport.DefaultRetryConfig()
	if r == nil {
		return out
	}
	if r.MaxAttempts > 0 {
		out.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoff > 0 {
		out.InitialBackoff = time.Duration(r.InitialBackoff) * time.Second
	}
	if r.MaxBackoff > 0 {
		out.MaxBackoff = time.Duration(r.MaxBackoff) * time.Second
	}
	if r.BackoffFactor > 0 {
		out.BackoffFactor = r.BackoffFactor
	}
	if len(r.RetryableStatus) > 0 {
		out.RetryableStatus = append([]int(nil), r.RetryableStatus...)
	}
	return out
}

// RateLimitConfig is a token-bucket rate limit.
type RateLimitConfig struct {
	// RPS is the sustained requests-per-second rate
	RPS float64 `yaml:"rps" json:"rps"`

	// Burst is the bucket size (defaults to 1)
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// PersistConfig selects where session state (cookies, auth token) is
// stored between runs.
type PersistConfig struct {
	// Backend is file, keyring, or sqlite
	Backend string `yaml:"backend" json:"backend"`

	// Path is the file or database path for file/sqlite backends
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Service is the keyring service name (defaults to libretto)
	Service string `yaml:"service,omitempty" json:"service,omitempty"`

	// Key names this session's state within the backend (defaults to the
	// client name)
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
}

// AuthConfig declares the authentication strategy. Credential fields
// accept literals, ${ENV} references, and secret://name references; they
// resolve through the secrets chain when the strategy is constructed,
// never at parse time.
type AuthConfig struct {
	// Type selects the strategy: api_key, basic, bearer, oauth2,
	// jwt_bearer, dpop, session_cookie, sigv4
	Type string `yaml:"type" json:"type"`

	// APIKey is the key material for api_key
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Field is the header/param/cookie name carrying the key
	Field string `yaml:"field,omitempty" json:"field,omitempty"`

	// Placement is header, query, or cookie (api_key only)
	Placement string `yaml:"placement,omitempty" json:"placement,omitempty"`

	// Username and Password serve basic auth
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// Token is the static token for bearer auth
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// ClientID, ClientSecret, TokenURL, Scopes serve oauth2 client
	// credentials
	ClientID     string   `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string   `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	TokenURL     string   `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// Issuer, Subject, Audience, PrivateKey, KeyID, Algorithm serve
	// jwt_bearer and dpop
	Issuer     string `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Subject    string `yaml:"subject,omitempty" json:"subject,omitempty"`
	Audience   string `yaml:"audience,omitempty" json:"audience,omitempty"`
	PrivateKey string `yaml:"private_key,omitempty" json:"private_key,omitempty"`
	KeyID      string `yaml:"key_id,omitempty" json:"key_id,omitempty"`
	Algorithm  string `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`

	// AccessToken is the DPoP-bound access token
	AccessToken string `yaml:"access_token,omitempty" json:"access_token,omitempty"`

	// CookieJar is the JSON cookie jar path for session_cookie
	CookieJar string `yaml:"cookie_jar,omitempty" json:"cookie_jar,omitempty"`

	// Region, Service, AccessKeyID, SecretAccessKey, SessionToken serve
	// sigv4; leaving the keys empty uses the default AWS credential chain
	Region           string `yaml:"region,omitempty" json:"region,omitempty"`
	Service          string `yaml:"service,omitempty" json:"service,omitempty"`
	AccessKeyID      string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey  string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
	SessionToken     string `yaml:"session_token,omitempty" json:"session_token,omitempty"`
	ValidateIdentity bool   `yaml:"validate_identity,omitempty" json:"validate_identity,omitempty"`

	// Extra carries strategy-specific settings not covered above
	Extra map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// PageConfig configures pagination for one method.
type PageConfig struct {
	// Strategy is params (page/size params), link (Link header
	// rel="next"), or cursor (jq path into the response)
	Strategy string `yaml:"strategy" json:"strategy"`

	// PageParam and SizeParam name the query params for the params
	// strategy
	PageParam string `yaml:"page_param,omitempty" json:"page_param,omitempty"`
	SizeParam string `yaml:"size_param,omitempty" json:"size_param,omitempty"`

	// Size is the page size sent with each request
	Size int `yaml:"size,omitempty" json:"size,omitempty"`

	// StartPage is the first page number (params strategy)
	StartPage int `yaml:"start_page,omitempty" json:"start_page,omitempty"`

	// ItemsPath is a jq expression selecting the items array from each
	// page
	ItemsPath string `yaml:"items_path,omitempty" json:"items_path,omitempty"`

	// CursorParam and CursorPath serve the cursor strategy: CursorPath
	// extracts the next cursor from the response, CursorParam carries it
	// on the next request
	CursorParam string `yaml:"cursor_param,omitempty" json:"cursor_param,omitempty"`
	CursorPath  string `yaml:"cursor_path,omitempty" json:"cursor_path,omitempty"`

	// MaxResults stops iteration after this many items (0 is unbounded)
	MaxResults int `yaml:"max_results,omitempty" json:"max_results,omitempty"`

	// DelayMS waits this many milliseconds between page fetches
	DelayMS int `yaml:"delay_ms,omitempty" json:"delay_ms,omitempty"`
}

// TransformConfig is the YAML form of one pipeline transform.
type TransformConfig struct {
	// Name labels the transform in pipeline history
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Category is payload, url, params, headers, cookies, or custom
	Category string `yaml:"category,omitempty" json:"category,omitempty"`

	// Op labels the operation kind (informational)
	Op string `yaml:"op,omitempty" json:"op,omitempty"`

	// Target is the payload key the transform operates on
	Target string `yaml:"target,omitempty" json:"target,omitempty"`

	// Order positions the transform; lower runs first
	Order int `yaml:"order,omitempty" json:"order,omitempty"`

	// Mode is update, nested_only, or root_only (payload transforms)
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`

	// Values is the value map merged by payload transforms
	Values map[string]any `yaml:"values,omitempty" json:"values,omitempty"`

	// JQ is a jq program; set, the transform applies it instead of
	// merging Values
	JQ string `yaml:"jq,omitempty" json:"jq,omitempty"`
}

// PayloadConfig is the YAML form of a payload declaration.
type PayloadConfig struct {
	// Fields maps field keys to their parameter configs
	Fields map[string]*FieldConfig `yaml:"fields,omitempty" json:"fields,omitempty"`

	// Statics are always included in the output; fields may override
	Statics map[string]any `yaml:"statics,omitempty" json:"statics,omitempty"`

	// Transform is a jq program applied to the assembled payload
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// FieldConfig is the YAML form of one parameter.
type FieldConfig struct {
	// Name renames the field in the output (empty keeps the field key)
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Type is any, string, integer, number, boolean, array, or object
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// Default is injected when the field is absent
	Default any `yaml:"default,omitempty" json:"default,omitempty"`

	// Required rejects requests missing this field (unless defaulted)
	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Choices restricts the final value to this set
	Choices []any `yaml:"choices,omitempty" json:"choices,omitempty"`

	// ValueMap remaps inputs; unmatched strings may fuzzy-match its keys
	ValueMap map[string]any `yaml:"value_map,omitempty" json:"value_map,omitempty"`

	// Fuzzy enables fuzzy value-map matching
	Fuzzy *FuzzyFieldConfig `yaml:"fuzzy,omitempty" json:"fuzzy,omitempty"`

	// Transform is a jq program applied to the value
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`

	// Transient fields feed dependents but never appear in the output
	Transient bool `yaml:"transient,omitempty" json:"transient,omitempty"`

	// RaiseFor lists stages (map, transform, type) whose failures raise
	// instead of passing through
	RaiseFor []string `yaml:"raise_for,omitempty" json:"raise_for,omitempty"`

	// Dependencies makes the field conditional on other fields' processed
	// values
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// Conditions are expr-lang programs over the dependency values
	Conditions *param.ExprConditions `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// FuzzyFieldConfig is the YAML form of fuzzy matching settings.
type FuzzyFieldConfig struct {
	// Scorer is token_sort_ratio (default), token_set_ratio, ratio, or
	// partial_ratio
	Scorer string `yaml:"scorer,omitempty" json:"scorer,omitempty"`

	// Threshold is the minimum score (0-100) for a match; defaults to 70
	Threshold int `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}
