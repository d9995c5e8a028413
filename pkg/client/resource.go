package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

// MetadataExtracted is the response metadata key holding the result of a
// method's extract expression.
const MetadataExtracted = "extracted"

// Args carry the inputs of one method call.
type Args struct {
	// Path supplies positional values for {placeholder} segments, matched
	// in order. When empty, placeholders consume their named keys from
	// Params instead.
	Path []any

	// Params are named inputs: placeholder values, payload fields, and
	// leftover query parameters
	Params map[string]any

	// Headers are per-request headers; they win over session defaults
	Headers map[string]string

	// Cookies are per-request cookies; they win over session defaults
	Cookies map[string]string

	// Body overrides the request body. Mapped params then travel as the
	// query string regardless of the HTTP method.
	Body any
}

// clone copies the args so iteration utilities can vary params per call
// without touching the caller's maps.
func (a Args) clone() Args {
	out := Args{Path: a.Path, Body: a.Body}
	if a.Params != nil {
		out.Params = make(map[string]any, len(a.Params))
		for k, v := range a.Params {
			out.Params[k] = v
		}
	}
	if a.Headers != nil {
		out.Headers = make(map[string]string, len(a.Headers))
		for k, v := range a.Headers {
			out.Headers[k] = v
		}
	}
	if a.Cookies != nil {
		out.Cookies = make(map[string]string, len(a.Cookies))
		for k, v := range a.Cookies {
			out.Cookies[k] = v
		}
	}
	return out
}

// Resource is the runtime view of one descriptor node. All resources of a
// client share its session by reference.
type Resource struct {
	client *Client
	desc   *descriptor.ResourceDescriptor
}

// Name returns the resource's compiled name.
func (r *Resource) Name() string { return r.desc.Name }

// Descriptor returns the descriptor node backing this resource.
func (r *Resource) Descriptor() *descriptor.ResourceDescriptor { return r.desc }

// Resource looks up a nested child resource by name.
func (r *Resource) Resource(name string) (*Resource, error) {
	rd, err := r.desc.Resource(name)
	if err != nil {
		return nil, err
	}
	return &Resource{client: r.client, desc: rd}, nil
}

// Methods returns the names of the methods this resource declares, in
// declaration order.
func (r *Resource) Methods() []string {
	names := make([]string, 0, len(r.desc.Methods))
	for _, m := range r.desc.Methods {
		names = append(names, m.Name)
	}
	return names
}

// Call invokes the named method: path resolution, payload mapping,
// protocol shaping, transforms, hooks, and the send itself. The response
// is returned alongside the error for non-2xx statuses.
func (r *Resource) Call(ctx context.Context, method string, args Args) (*transport.Response, error) {
	m, err := r.desc.Method(method)
	if err != nil {
		return nil, err
	}
	return r.invoke(ctx, m, args)
}

func (r *Resource) invoke(ctx context.Context, m *descriptor.MethodDescriptor, args Args) (*transport.Response, error) {
	ctx, span := r.client.tracer.Start(ctx, "client.call", trace.WithAttributes(
		attribute.String("client.name", r.client.desc.Name),
		attribute.String("resource.name", r.desc.Name),
		attribute.String("method.name", m.Name),
	))
	defer span.End()

	req, err := r.buildRequest(ctx, m, args)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := r.send(ctx, m, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

// send runs a built request through the hook, session, and extraction
// stages. Pagination reuses it for follow-up page requests.
func (r *Resource) send(ctx context.Context, m *descriptor.MethodDescriptor, req *transport.Request) (*transport.Response, error) {
	var err error
	if m.Pre != nil {
		req, err = m.Pre(ctx, req)
		if err != nil {
			return nil, libretoerrors.Wrap(err, "pre hook failed")
		}
		if req == nil {
			return nil, &libretoerrors.ValidationError{
				Field:   "pre",
				Message: fmt.Sprintf("pre hook for %s returned no request", m.Name),
			}
		}
	}

	resp, err := r.client.session.Send(ctx, req)
	if err != nil {
		return resp, err
	}

	if m.Extract != "" {
		if exErr := r.extract(ctx, m.Extract, resp); exErr != nil {
			return resp, exErr
		}
	}

	if m.Post != nil {
		resp, err = m.Post(ctx, resp)
		if err != nil {
			return resp, libretoerrors.Wrap(err, "post hook failed")
		}
	}
	return resp, nil
}

// buildRequest assembles the transport request: base URL, resolved path,
// payload mapping, protocol shaping, and the transform pipeline.
func (r *Resource) buildRequest(ctx context.Context, m *descriptor.MethodDescriptor, args Args) (*transport.Request, error) {
	baseURL := r.desc.EffectiveBaseURL()
	if baseURL == "" {
		return nil, &libretoerrors.ConfigError{
			Key:    "base_url",
			Reason: fmt.Sprintf("no base URL configured for %s.%s", r.desc.Name, m.Name),
		}
	}

	path, remaining, err := ResolvePath(m.FullPath(), args.Path, args.Params)
	if err != nil {
		return nil, err
	}

	payload := remaining
	if m.Payload != nil {
		if err := m.Payload.Validate(remaining); err != nil {
			return nil, err
		}
		payload, err = m.Payload.Apply(remaining)
		if err != nil {
			return nil, err
		}
	}

	proto := m.EffectiveProtocol()
	verb := m.HTTPMethod
	if proto.Method != "" {
		verb = strings.ToUpper(proto.Method)
	}

	req := transport.NewRequest(verb, baseURL, path)
	if len(args.Headers) > 0 {
		req = req.WithHeaders(args.Headers)
	}
	for name, value := range args.Cookies {
		req = req.WithCookie(name, value)
	}

	switch proto.Type {
	case descriptor.ProtocolGraphQL:
		req = shapeGraphQL(req, m.Query, payload)
	case descriptor.ProtocolAlgolia:
		req, err = shapeAlgolia(req, m, payload)
		if err != nil {
			return nil, err
		}
	default:
		req = shapeREST(req, payload, args.Body)
	}

	if m.Timeout > 0 {
		req = req.WithTimeout(time.Duration(m.Timeout) * time.Second)
	}
	if m.Retry != nil {
		req = req.WithRetry(m.Retry.ToTransport())
	}

	return r.client.applyTransforms(ctx, req)
}

// extract applies the method's jq expression to the response JSON and
// stores the result under the "extracted" metadata key.
func (r *Resource) extract(ctx context.Context, expression string, resp *transport.Response) error {
	data, err := resp.JSON()
	if err != nil {
		return libretoerrors.Wrap(err, "extract needs a JSON response body")
	}
	result, err := r.client.jq.Execute(ctx, expression, data)
	if err != nil {
		return libretoerrors.Wrap(err, "extract failed")
	}
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata[MetadataExtracted] = result
	return nil
}
