package descriptor

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/param"
	"github.com/tombee/libretto/pkg/transform"
	"github.com/tombee/libretto/pkg/transport"
)

func searchClient() *ClientDescriptor {
	return &ClientDescriptor{
		Name:     "Shop",
		BaseURL:  "https://api.shop.test",
		Metadata: map[string]any{"team": "search", "name": "shop"},
		Resources: []*ResourceDescriptor{
			{
				Name:     "Search",
				Path:     "/search/",
				Metadata: map[string]any{"index": "products", "name": "search"},
				Methods: []*MethodDescriptor{
					{
						Name:       "Query",
						HTTPMethod: "get",
						Path:       "query",
					},
				},
				Resources: []*ResourceDescriptor{
					{
						Name: "Facets",
						Path: "facets",
						Methods: []*MethodDescriptor{
							{Name: "list", HTTPMethod: "GET", Path: "list"},
						},
					},
				},
			},
		},
	}
}

func TestCompile_DefaultsAndLinks(t *testing.T) {
	desc := searchClient()
	compiled, err := desc.Compile()
	require.NoError(t, err)
	require.Same(t, desc, compiled.Client())

	assert.Equal(t, "shop", desc.Name)

	search, err := desc.Resource("Search")
	require.NoError(t, err)
	assert.Equal(t, "search", search.Name)
	assert.Nil(t, search.Parent())
	assert.Same(t, desc, search.Client())

	facets, err := search.Resource("facets")
	require.NoError(t, err)
	assert.Same(t, search, facets.Parent())

	m, err := search.Method("QUERY")
	require.NoError(t, err)
	assert.Equal(t, "GET", m.HTTPMethod)
	assert.Same(t, search, m.Resource())
}

func TestCompile_Idempotent(t *testing.T) {
	desc := searchClient()
	first, err := desc.Compile()
	require.NoError(t, err)
	second, err := desc.Compile()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestCompile_RequiresName(t *testing.T) {
	desc := searchClient()
	desc.Name = "  "
	_, err := desc.Compile()
	var verr *libretoerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
}

func TestCompile_RequiresResources(t *testing.T) {
	desc := &ClientDescriptor{Name: "empty"}
	_, err := desc.Compile()
	var verr *libretoerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "resources", verr.Field)
}

func TestCompile_DuplicateNames(t *testing.T) {
	desc := searchClient()
	desc.Resources = append(desc.Resources, &ResourceDescriptor{Name: "SEARCH", Path: "other"})
	_, err := desc.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate resource name: search")

	desc = searchClient()
	desc.Resources[0].Methods = append(desc.Resources[0].Methods,
		&MethodDescriptor{Name: "query", HTTPMethod: "POST"})
	_, err = desc.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate method name: query")
}

func TestCompile_HTTPMethodValidation(t *testing.T) {
	desc := searchClient()
	desc.Resources[0].Methods[0].HTTPMethod = "FETCH"
	_, err := desc.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid HTTP method "FETCH"`)

	// A missing verb is an error for REST methods.
	desc = searchClient()
	desc.Resources[0].Methods[0].HTTPMethod = ""
	_, err = desc.Compile()
	var verr *libretoerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "http_method", verr.Field)
}

func TestCompile_GraphQLDefaultsToPost(t *testing.T) {
	desc := searchClient()
	desc.Protocol = &ProtocolConfig{Type: ProtocolGraphQL}
	m := desc.Resources[0].Methods[0]
	m.HTTPMethod = ""
	m.Query = "query { products { id } }"
	desc.Resources[0].Resources[0].Methods[0].Query = "query { facets }"
	desc.Resources[0].Resources[0].Methods[0].HTTPMethod = ""

	_, err := desc.Compile()
	require.NoError(t, err)
	assert.Equal(t, "POST", m.HTTPMethod)
}

func TestCompile_GraphQLRequiresQuery(t *testing.T) {
	desc := searchClient()
	desc.Resources[0].Methods[0].Protocol = &ProtocolConfig{Type: ProtocolGraphQL}
	_, err := desc.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no query document")
}

func TestCompile_UnknownProtocol(t *testing.T) {
	desc := searchClient()
	desc.Protocol = &ProtocolConfig{Type: "soap"}
	_, err := desc.Compile()
	var verr *libretoerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "protocol.type", verr.Field)
}

func TestCompile_InvalidExtract(t *testing.T) {
	desc := searchClient()
	desc.Resources[0].Methods[0].Extract = ".hits | map("
	_, err := desc.Compile()
	var cerr *libretoerrors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "extract", cerr.Key)
}

func TestCompile_PageDefaults(t *testing.T) {
	desc := searchClient()
	desc.Resources[0].Methods[0].Page = &PageConfig{Strategy: "params"}
	_, err := desc.Compile()
	require.NoError(t, err)
	page := desc.Resources[0].Methods[0].Page
	assert.Equal(t, "page", page.PageParam)
	assert.Equal(t, 1, page.StartPage)
}

func TestCompile_PageValidation(t *testing.T) {
	tests := []struct {
		name string
		page *PageConfig
		want string
	}{
		{"unknown strategy", &PageConfig{Strategy: "offset"}, "unknown pagination strategy"},
		{"cursor missing params", &PageConfig{Strategy: "cursor"}, "requires cursor_param and cursor_path"},
		{"cursor bad path", &PageConfig{Strategy: "cursor", CursorParam: "after", CursorPath: ".next["}, "invalid jq expression"},
		{"bad items path", &PageConfig{Strategy: "params", ItemsPath: ".hits["}, "invalid jq expression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := searchClient()
			desc.Resources[0].Methods[0].Page = tt.page
			_, err := desc.Compile()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompile_AuthValidation(t *testing.T) {
	desc := searchClient()
	desc.Auth = &AuthConfig{Type: "magic"}
	_, err := desc.Compile()
	var cerr *libretoerrors.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "auth.type", cerr.Key)

	// Credentials are not required at compile time; they resolve when the
	// strategy is constructed.
	desc = searchClient()
	desc.Auth = &AuthConfig{Type: "bearer"}
	_, err = desc.Compile()
	assert.NoError(t, err)
}

func TestCompile_SessionValidation(t *testing.T) {
	tests := []struct {
		name    string
		session *SessionConfig
		wantKey string
	}{
		{"zero rps", &SessionConfig{RateLimit: &RateLimitConfig{RPS: 0}}, "session.rate_limit.rps"},
		{"bad retry", &SessionConfig{Retry: &RetryConfig{MaxAttempts: 0}}, "session.retry.max_attempts"},
		{"file persist without path", &SessionConfig{Persist: &PersistConfig{Backend: "file"}}, "session.persist.path"},
		{"unknown backend", &SessionConfig{Persist: &PersistConfig{Backend: "redis"}}, "session.persist.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := searchClient()
			desc.Session = tt.session
			_, err := desc.Compile()
			var cerr *libretoerrors.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.wantKey, cerr.Key)
		})
	}
}

func TestCompile_MetadataInheritance(t *testing.T) {
	desc := searchClient()
	desc.Resources[0].Methods[0].Metadata = map[string]any{"index": "products_query"}
	_, err := desc.Compile()
	require.NoError(t, err)

	// Client metadata keeps its own keys, including deny-listed ones.
	team, _ := desc.Meta().Get("team")
	assert.Equal(t, "search", team)
	name, _ := desc.Meta().Get("name")
	assert.Equal(t, "shop", name)

	search, _ := desc.Resource("search")
	team, _ = search.Meta().Get("team")
	assert.Equal(t, "search", team)
	// The client's "name" does not flow down; the resource kept its own.
	name, _ = search.Meta().Get("name")
	assert.Equal(t, "search", name)

	m, _ := search.Method("query")
	index, _ := m.Meta().Get("index")
	assert.Equal(t, "products_query", index, "method metadata wins over resource metadata")
	team, _ = m.Meta().Get("team")
	assert.Equal(t, "search", team, "client metadata reaches methods")
	_, ok := m.Meta().Get("name")
	assert.False(t, ok, "resource name must not reach the method")
}

func TestFullPath_NestedFragments(t *testing.T) {
	desc := &ClientDescriptor{
		Name: "nested",
		Resources: []*ResourceDescriptor{{
			Name: "a", Path: "/a/",
			Resources: []*ResourceDescriptor{{
				Name: "b", Path: "b",
				Resources: []*ResourceDescriptor{{
					Name: "c", Path: "c/",
					Methods: []*MethodDescriptor{{Name: "get", HTTPMethod: "GET", Path: "/items/"}},
				}},
			}},
		}},
	}
	_, err := desc.Compile()
	require.NoError(t, err)

	a, _ := desc.Resource("a")
	b, _ := a.Resource("b")
	c, _ := b.Resource("c")
	assert.Equal(t, "/a/b/c", c.FullPath())

	m, _ := c.Method("get")
	assert.Equal(t, "/a/b/c/items", m.FullPath())
}

func TestFullPath_SkipsEmptyFragments(t *testing.T) {
	desc := &ClientDescriptor{
		Name: "sparse",
		Resources: []*ResourceDescriptor{{
			Name: "group",
			Resources: []*ResourceDescriptor{{
				Name: "items", Path: "items",
				Methods: []*MethodDescriptor{{Name: "list", HTTPMethod: "GET"}},
			}},
		}},
	}
	_, err := desc.Compile()
	require.NoError(t, err)

	group, _ := desc.Resource("group")
	assert.Equal(t, "", group.FullPath())

	items, _ := group.Resource("items")
	assert.Equal(t, "/items", items.FullPath())

	m, _ := items.Method("list")
	assert.Equal(t, "/items", m.FullPath(), "methods without fragments use the resource path")
}

func TestEffectiveBaseURL(t *testing.T) {
	desc := searchClient()
	desc.Resources[0].Resources[0].BaseURL = "https://facets.shop.test"
	_, err := desc.Compile()
	require.NoError(t, err)

	search, _ := desc.Resource("search")
	assert.Equal(t, "https://api.shop.test", search.EffectiveBaseURL())

	facets, _ := search.Resource("facets")
	assert.Equal(t, "https://facets.shop.test", facets.EffectiveBaseURL())
}

func TestEffectiveProtocol(t *testing.T) {
	desc := searchClient()
	desc.Protocol = &ProtocolConfig{Type: ProtocolAlgolia}
	m := desc.Resources[0].Methods[0]
	m.Protocol = &ProtocolConfig{Type: ProtocolREST}
	_, err := desc.Compile()
	require.NoError(t, err)

	assert.Equal(t, ProtocolREST, m.EffectiveProtocol().Type, "method override wins")

	facets, _ := desc.Resources[0].Resource("facets")
	list, _ := facets.Method("list")
	assert.Equal(t, ProtocolAlgolia, list.EffectiveProtocol().Type, "client default reaches nested methods")
}

func TestEffectiveProtocol_DefaultsToREST(t *testing.T) {
	desc := searchClient()
	_, err := desc.Compile()
	require.NoError(t, err)
	m := desc.Resources[0].Methods[0]
	assert.Equal(t, ProtocolREST, m.EffectiveProtocol().Type)
}

func TestCompile_BuildsPayloadFromConfig(t *testing.T) {
	desc := searchClient()
	desc.Resources[0].Methods[0].PayloadConfig = &PayloadConfig{
		Fields: map[string]*FieldConfig{
			"query": {Required: true, Type: "string"},
			"hits":  {Type: "integer", Default: 20},
		},
	}
	_, err := desc.Compile()
	require.NoError(t, err)

	m := desc.Resources[0].Methods[0]
	require.NotNil(t, m.Payload)

	out, err := m.Payload.Apply(map[string]any{"query": "shoes"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "shoes", "hits": 20}, out)
}

func TestCompile_ProgrammaticPayloadWins(t *testing.T) {
	desc := searchClient()
	own := &param.Payload{Fields: map[string]param.Field{
		"q": &param.Parameter{Required: true},
	}}
	desc.Resources[0].Methods[0].Payload = own
	desc.Resources[0].Methods[0].PayloadConfig = &PayloadConfig{
		Fields: map[string]*FieldConfig{"other": {}},
	}
	_, err := desc.Compile()
	require.NoError(t, err)
	assert.Same(t, own, desc.Resources[0].Methods[0].Payload)
}

func TestSetLogger_ReachesParameters(t *testing.T) {
	desc := searchClient()
	desc.Resources[0].Methods[0].PayloadConfig = &PayloadConfig{
		Fields: map[string]*FieldConfig{
			"query": {Type: "string"},
			"sort":  {Dependencies: []string{"query"}, Conditions: &param.ExprConditions{Value: `"relevance"`}},
		},
	}
	compiled, err := desc.Compile()
	require.NoError(t, err)

	logger := slog.Default()
	compiled.SetLogger(logger)

	fields := desc.Resources[0].Methods[0].Payload.Fields
	p, ok := fields["query"].(*param.Parameter)
	require.True(t, ok)
	assert.Same(t, logger, p.Logger)

	c, ok := fields["sort"].(*param.ConditionalParameter)
	require.True(t, ok)
	assert.Same(t, logger, c.Logger)
}

func TestTransformConfigBuild(t *testing.T) {
	jqT, err := (&TransformConfig{Name: "flatten", JQ: ".items"}).Build()
	require.NoError(t, err)
	assert.IsType(t, &transform.JQ{}, jqT)
	assert.Equal(t, "flatten", jqT.Name())

	payloadT, err := (&TransformConfig{
		Category: "payload",
		Target:   "filters",
		Order:    2,
		Values:   map[string]any{"currency": "USD"},
	}).Build()
	require.NoError(t, err)
	assert.IsType(t, &transform.PayloadTransform{}, payloadT)
	assert.Equal(t, 2, payloadT.Order())

	_, err = (&TransformConfig{Category: "body"}).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transform category")

	_, err = (&TransformConfig{Mode: "replace"}).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transform mode")
}

func TestRetryConfig_ToTransport(t *testing.T) {
	rc := &RetryConfig{MaxAttempts: 5, InitialBackoff: 2, BackoffFactor: 3}
	out := rc.ToTransport()
	assert.Equal(t, 5, out.MaxAttempts)
	assert.Equal(t, "2s", out.InitialBackoff.String())
	assert.Equal(t, 3.0, out.BackoffFactor)

	defaults := transport.DefaultRetryConfig()
	assert.Equal(t, defaults.MaxBackoff, out.MaxBackoff, "unset fields keep transport defaults")

	var nilRC *RetryConfig
	assert.NotNil(t, nilRC.ToTransport())
}
