package sdk

import (
	"github.com/tombee/libretto/pkg/descriptor"
	"github.com/tombee/libretto/pkg/param"
)

// MethodBuilder assembles one method. Close it with Done to return to
// the owning resource.
type MethodBuilder struct {
	root  *ClientBuilder
	owner *ResourceBuilder
	m     *descriptor.MethodDescriptor
}

// Get makes this a GET method at the given path fragment. The fragment
// is appended to the resource path; {placeholder} segments are
// substituted from call arguments.
//
// Example:
//
//	.Method("get").Get("{id}")
func (m *MethodBuilder) Get(path string) *MethodBuilder { return m.verb("GET", path) }

// Post makes this a POST method at the given path fragment.
func (m *MethodBuilder) Post(path string) *MethodBuilder { return m.verb("POST", path) }

// Put makes this a PUT method at the given path fragment.
func (m *MethodBuilder) Put(path string) *MethodBuilder { return m.verb("PUT", path) }

// Patch makes this a PATCH method at the given path fragment.
func (m *MethodBuilder) Patch(path string) *MethodBuilder { return m.verb("PATCH", path) }

// Delete makes this a DELETE method at the given path fragment.
func (m *MethodBuilder) Delete(path string) *MethodBuilder { return m.verb("DELETE", path) }

// Verb sets the HTTP method and path fragment for verbs the helpers do
// not cover (HEAD, OPTIONS).
func (m *MethodBuilder) Verb(httpMethod, path string) *MethodBuilder {
	return m.verb(httpMethod, path)
}

func (m *MethodBuilder) verb(httpMethod, path string) *MethodBuilder {
	m.m.HTTPMethod = httpMethod
	m.m.Path = path
	return m
}

// Protocol overrides the wire protocol for this method only.
func (m *MethodBuilder) Protocol(p descriptor.Protocol) *MethodBuilder {
	if m.m.Protocol == nil {
		m.m.Protocol = &descriptor.ProtocolConfig{}
	}
	m.m.Protocol.Type = p
	return m
}

// Query sets the GraphQL document for graphql methods. Call arguments
// become the query variables.
//
// Example:
//
//	.Method("products").Query(`
//		query($first: Int) {
//			products(first: $first) { id title }
//		}`).Done()
func (m *MethodBuilder) Query(doc string) *MethodBuilder {
	m.m.Query = doc
	return m
}

// Param declares a payload field. Refine it on the returned
// FieldBuilder and call Done to come back to the method. Declaring the
// same key twice records an error reported by Build.
//
// Example:
//
//	.Method("search").Post("query").
//		Param("query", sdk.TypeString).Required().Done().
//		Param("hits", sdk.TypeInteger).Default(20).Done()
func (m *MethodBuilder) Param(key string, typ FieldType) *FieldBuilder {
	pc := m.payload()
	if pc.Fields == nil {
		pc.Fields = make(map[string]*descriptor.FieldConfig)
	}
	if _, dup := pc.Fields[key]; dup {
		m.root.recordf(key, "method %s declares parameter %s twice", m.m.Name, key)
	}
	f := &descriptor.FieldConfig{Type: string(typ)}
	pc.Fields[key] = f
	return &FieldBuilder{method: m, field: f}
}

// Static adds a fixed payload value sent with every call. Declared
// fields win over statics on key collision.
func (m *MethodBuilder) Static(key string, value any) *MethodBuilder {
	pc := m.payload()
	if pc.Statics == nil {
		pc.Statics = make(map[string]any)
	}
	pc.Statics[key] = value
	return m
}

// Transform applies a jq program to the assembled payload.
//
// Example:
//
//	.Transform(`{params: .}`)
func (m *MethodBuilder) Transform(program string) *MethodBuilder {
	m.payload().Transform = program
	return m
}

// Extract applies a jq expression to the response JSON; the result
// lands in the response metadata under extracted.
//
// Example:
//
//	.Extract(`.data.items`)
func (m *MethodBuilder) Extract(expr string) *MethodBuilder {
	m.m.Extract = expr
	return m
}

// Timeout bounds this method's requests in seconds, overriding the
// session default.
func (m *MethodBuilder) Timeout(seconds int) *MethodBuilder {
	m.m.Timeout = seconds
	return m
}

// RetryPolicy overrides the session retry policy for this method.
func (m *MethodBuilder) RetryPolicy(cfg descriptor.RetryConfig) *MethodBuilder {
	rc := cfg
	m.m.Retry = &rc
	return m
}

// Meta sets one metadata key, merged over the resource's metadata.
func (m *MethodBuilder) Meta(key string, value any) *MethodBuilder {
	if m.m.Metadata == nil {
		m.m.Metadata = make(map[string]any)
	}
	m.m.Metadata[key] = value
	return m
}

// Page configures pagination for Pages iteration.
//
// Example:
//
//	.Page(descriptor.PageConfig{
//		Strategy:    "cursor",
//		CursorParam: "after",
//		CursorPath:  ".meta.next",
//		ItemsPath:   ".items",
//	})
func (m *MethodBuilder) Page(cfg descriptor.PageConfig) *MethodBuilder {
	pc := cfg
	m.m.Page = &pc
	return m
}

// Pre registers a hook that runs after request construction, before
// sending.
func (m *MethodBuilder) Pre(hook descriptor.RequestHook) *MethodBuilder {
	m.m.Pre = hook
	return m
}

// PostHook registers a hook that runs on the response after extraction.
func (m *MethodBuilder) PostHook(hook descriptor.ResponseHook) *MethodBuilder {
	m.m.Post = hook
	return m
}

// Done returns to the owning resource.
func (m *MethodBuilder) Done() *ResourceBuilder {
	return m.owner
}

func (m *MethodBuilder) payload() *descriptor.PayloadConfig {
	if m.m.PayloadConfig == nil {
		m.m.PayloadConfig = &descriptor.PayloadConfig{}
	}
	return m.m.PayloadConfig
}

// FieldBuilder refines one payload field.
type FieldBuilder struct {
	method *MethodBuilder
	field  *descriptor.FieldConfig
}

// Required rejects calls missing this field unless a default applies.
func (f *FieldBuilder) Required() *FieldBuilder {
	f.field.Required = true
	return f
}

// Default injects the value when the field is absent.
func (f *FieldBuilder) Default(value any) *FieldBuilder {
	f.field.Default = value
	return f
}

// Rename changes the field's name in the outgoing payload.
func (f *FieldBuilder) Rename(name string) *FieldBuilder {
	f.field.Name = name
	return f
}

// Choices restricts the final value to the given set.
func (f *FieldBuilder) Choices(values ...any) *FieldBuilder {
	f.field.Choices = values
	return f
}

// Map remaps input values through the given table before coercion.
//
// Example:
//
//	.Param("brand", sdk.TypeAny).
//		Map(map[string]any{"Rick Owens": 1, "Vetements": 2}).
//		Fuzzy(70).
//		Done()
func (f *FieldBuilder) Map(values map[string]any) *FieldBuilder {
	f.field.ValueMap = values
	return f
}

// Fuzzy matches unmapped inputs against the value map keys. Threshold
// is the minimum score from 0 to 100; 0 uses the default.
func (f *FieldBuilder) Fuzzy(threshold int) *FieldBuilder {
	f.field.Fuzzy = &descriptor.FuzzyFieldConfig{Threshold: threshold}
	return f
}

// Transform applies a jq program to the value.
func (f *FieldBuilder) Transform(program string) *FieldBuilder {
	f.field.Transform = program
	return f
}

// Transient feeds dependent fields without appearing in the output.
func (f *FieldBuilder) Transient() *FieldBuilder {
	f.field.Transient = true
	return f
}

// RaiseFor raises mapping failures from the given stages (map,
// transform, type) instead of passing the value through.
func (f *FieldBuilder) RaiseFor(stages ...string) *FieldBuilder {
	f.field.RaiseFor = stages
	return f
}

// DependsOn makes this field conditional on other fields' processed
// values. Combine with When or Value to act on them.
//
// Example:
//
//	.Param("filters", sdk.TypeString).
//		DependsOn("query").
//		When(`query != ""`).
//		Done()
func (f *FieldBuilder) DependsOn(fields ...string) *FieldBuilder {
	f.field.Dependencies = append(f.field.Dependencies, fields...)
	return f
}

// When includes the field only while the expression over its
// dependencies is true.
func (f *FieldBuilder) When(expr string) *FieldBuilder {
	f.conditions().Include = expr
	return f
}

// Value computes the field's value from its dependencies.
//
// Example:
//
//	.Param("filters", sdk.TypeString).
//		DependsOn("category").
//		Value(`"category:" + category`).
//		Done()
func (f *FieldBuilder) Value(expr string) *FieldBuilder {
	f.conditions().Value = expr
	return f
}

// Done returns to the method.
func (f *FieldBuilder) Done() *MethodBuilder {
	return f.method
}

func (f *FieldBuilder) conditions() *param.ExprConditions {
	if f.field.Conditions == nil {
		f.field.Conditions = &param.ExprConditions{}
	}
	return f.field.Conditions
}
