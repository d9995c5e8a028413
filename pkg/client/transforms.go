package client

import (
	"context"
	"fmt"

	"github.com/spf13/cast"

	"github.com/tombee/libretto/pkg/transform"
	"github.com/tombee/libretto/pkg/transport"
)

// applyTransform runs one transform against the request part its category
// names. Payload and custom transforms shape the body when one is set and
// the query params otherwise.
func applyTransform(ctx context.Context, t transform.Transform, req *transport.Request, tc *transform.Context) (*transport.Request, error) {
	switch targetCategory(t) {
	case transform.CategoryURL:
		v, err := t.Apply(ctx, req.Path, tc)
		if err != nil {
			return nil, err
		}
		path, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("url transform must produce a string, got %T", v)
		}
		return req.WithPath(path), nil

	case transform.CategoryParams:
		v, err := t.Apply(ctx, anyMapCopy(req.Params), tc)
		if err != nil {
			return nil, err
		}
		params, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("params transform must produce a map, got %T", v)
		}
		out := req.Clone()
		out.Params = params
		return out, nil

	case transform.CategoryHeaders:
		headers, err := applyStringMap(ctx, t, req.Headers, tc)
		if err != nil {
			return nil, err
		}
		out := req.Clone()
		out.Headers = headers
		return out, nil

	case transform.CategoryCookies:
		cookies, err := applyStringMap(ctx, t, req.Cookies, tc)
		if err != nil {
			return nil, err
		}
		out := req.Clone()
		out.Cookies = cookies
		return out, nil

	default:
		if req.Body != nil {
			v, err := t.Apply(ctx, req.Body, tc)
			if err != nil {
				return nil, err
			}
			return req.WithBody(v), nil
		}
		v, err := t.Apply(ctx, anyMapCopy(req.Params), tc)
		if err != nil {
			return nil, err
		}
		params, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("payload transform over query params must produce a map, got %T", v)
		}
		out := req.Clone()
		out.Params = params
		return out, nil
	}
}

// applyStringMap runs a transform over a string map (headers, cookies),
// widening to map[string]any on the way in and coercing values back to
// strings on the way out.
func applyStringMap(ctx context.Context, t transform.Transform, in map[string]string, tc *transform.Context) (map[string]string, error) {
	widened := make(map[string]any, len(in))
	for k, v := range in {
		widened[k] = v
	}
	v, err := t.Apply(ctx, widened, tc)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("transform must produce a map, got %T", v)
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		s, err := cast.ToStringE(item)
		if err != nil {
			return nil, fmt.Errorf("transform produced a non-string value for %s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

// targetCategory reads the transform's category; transforms without one
// are treated as payload transforms.
func targetCategory(t transform.Transform) transform.Category {
	type categorized interface {
		TargetCategory() transform.Category
	}
	if c, ok := t.(categorized); ok && c.TargetCategory() != "" {
		return c.TargetCategory()
	}
	return transform.CategoryPayload
}

func anyMapCopy(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
