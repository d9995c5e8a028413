package sdk

import "github.com/tombee/libretto/pkg/descriptor"

// ResourceBuilder assembles one resource. Close a top-level resource
// with Done to return to the client; close a nested resource with End
// to return to its parent.
type ResourceBuilder struct {
	root   *ClientBuilder
	parent *ResourceBuilder
	res    *descriptor.ResourceDescriptor
}

// Path overrides the resource's URL fragment. An empty path removes the
// fragment from resolved URLs.
//
// Example:
//
//	.Resource("search").Path("1/indexes")
func (r *ResourceBuilder) Path(path string) *ResourceBuilder {
	r.res.Path = path
	return r
}

// BaseURL overrides the client base URL for this resource and its
// children.
func (r *ResourceBuilder) BaseURL(url string) *ResourceBuilder {
	r.res.BaseURL = url
	return r
}

// Meta sets one metadata key, merged over inherited metadata.
func (r *ResourceBuilder) Meta(key string, value any) *ResourceBuilder {
	if r.res.Metadata == nil {
		r.res.Metadata = make(map[string]any)
	}
	r.res.Metadata[key] = value
	return r
}

// Protocol overrides the wire protocol for this resource and its
// children.
func (r *ResourceBuilder) Protocol(p descriptor.Protocol) *ResourceBuilder {
	if r.res.Protocol == nil {
		r.res.Protocol = &descriptor.ProtocolConfig{}
	}
	r.res.Protocol.Type = p
	return r
}

// Method adds an operation to this resource.
//
// Example:
//
//	.Resource("products").
//		Method("list").Get("").Done().
//		Method("create").Post("").
//			Param("name", sdk.TypeString).Required().Done().
//			Done()
func (r *ResourceBuilder) Method(name string) *MethodBuilder {
	m := &descriptor.MethodDescriptor{Name: name}
	r.res.Methods = append(r.res.Methods, m)
	return &MethodBuilder{root: r.root, owner: r, m: m}
}

// Resource adds a nested child resource. Close the child with End to
// continue building this resource.
//
// Example:
//
//	.Resource("products").
//		Method("get").Get("{id}").Done().
//		Resource("reviews").Path("{id}/reviews").
//			Method("list").Get("").Done().
//			End().
//		Done()
func (r *ResourceBuilder) Resource(name string) *ResourceBuilder {
	child := &descriptor.ResourceDescriptor{Name: name, Path: name}
	r.res.Resources = append(r.res.Resources, child)
	return &ResourceBuilder{root: r.root, parent: r, res: child}
}

// End returns to the parent resource. Calling End on a top-level
// resource records an error reported by Build.
func (r *ResourceBuilder) End() *ResourceBuilder {
	if r.parent == nil {
		r.root.recordf("resources", "End called on top-level resource %s; close it with Done", r.res.Name)
		return r
	}
	return r.parent
}

// Done returns to the client builder.
func (r *ResourceBuilder) Done() *ClientBuilder {
	return r.root
}
