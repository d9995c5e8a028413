package descriptor

import (
	"strings"

	libretoerrors "github.com/tombee/libretto/pkg/errors"
)

// Resource looks up a top-level resource by name (case-insensitive).
func (d *ClientDescriptor) Resource(name string) (*ResourceDescriptor, error) {
	return findResource(d.Resources, name)
}

// Meta returns the client's metadata store. Nil until Compile runs.
func (d *ClientDescriptor) Meta() *Store { return d.meta }

// Resource looks up a child resource by name (case-insensitive).
func (r *ResourceDescriptor) Resource(name string) (*ResourceDescriptor, error) {
	return findResource(r.Resources, name)
}

// Method looks up a method by name (case-insensitive).
func (r *ResourceDescriptor) Method(name string) (*MethodDescriptor, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, m := range r.Methods {
		if m.Name == want {
			return m, nil
		}
	}
	return nil, &libretoerrors.NotFoundError{Resource: "method", ID: name}
}

// Parent returns the enclosing resource, or nil for top-level resources.
func (r *ResourceDescriptor) Parent() *ResourceDescriptor { return r.parent }

// Client returns the owning client descriptor. Nil until Compile runs.
func (r *ResourceDescriptor) Client() *ClientDescriptor { return r.client }

// Meta returns the resource's merged metadata store. Nil until Compile
// runs.
func (r *ResourceDescriptor) Meta() *Store { return r.meta }

// FullPath walks from this resource to the root collecting non-empty
// path fragments, reverses them into root-to-leaf order, and joins them
// with "/". Each fragment is trimmed of surrounding slashes. Three nested
// fragments a, b, c resolve to "/a/b/c".
func (r *ResourceDescriptor) FullPath() string {
	var fragments []string
	for node := r; node != nil; node = node.parent {
		if f := strings.Trim(node.Path, "/"); f != "" {
			fragments = append(fragments, f)
		}
	}
	if len(fragments) == 0 {
		return ""
	}
	for i, j := 0, len(fragments)-1; i < j; i, j = i+1, j-1 {
		fragments[i], fragments[j] = fragments[j], fragments[i]
	}
	return "/" + strings.Join(fragments, "/")
}

// EffectiveBaseURL returns the nearest base URL override walking from
// this resource up to the client. Empty means none is configured.
func (r *ResourceDescriptor) EffectiveBaseURL() string {
	for node := r; node != nil; node = node.parent {
		if node.BaseURL != "" {
			return node.BaseURL
		}
	}
	if r.client != nil {
		return r.client.BaseURL
	}
	return ""
}

// Resource returns the owning resource. Nil until Compile runs.
func (m *MethodDescriptor) Resource() *ResourceDescriptor { return m.resource }

// Meta returns the method's merged metadata store. Nil until Compile
// runs.
func (m *MethodDescriptor) Meta() *Store { return m.meta }

// FullPath joins the owning resource's full path with the method's own
// fragment.
func (m *MethodDescriptor) FullPath() string {
	base := ""
	if m.resource != nil {
		base = m.resource.FullPath()
	}
	frag := strings.Trim(m.Path, "/")
	if frag == "" {
		return base
	}
	return base + "/" + frag
}

// EffectiveProtocol resolves the protocol config for this method: its own
// override, else the nearest resource ancestor's, else the client's, else
// plain REST.
func (m *MethodDescriptor) EffectiveProtocol() ProtocolConfig {
	if m.Protocol != nil && m.Protocol.Type != "" {
		return *m.Protocol
	}
	for r := m.resource; r != nil; r = r.parent {
		if r.Protocol != nil && r.Protocol.Type != "" {
			return *r.Protocol
		}
	}
	if m.resource != nil && m.resource.client != nil {
		if p := m.resource.client.Protocol; p != nil && p.Type != "" {
			return *p
		}
	}
	return ProtocolConfig{Type: ProtocolREST}
}

func findResource(resources []*ResourceDescriptor, name string) (*ResourceDescriptor, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, r := range resources {
		if r.Name == want {
			return r, nil
		}
	}
	return nil, &libretoerrors.NotFoundError{Resource: "resource", ID: name}
}
