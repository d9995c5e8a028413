package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/transport"
)

// Metadata keys the Algolia shaper reads from the method's merged store.
// Set them once on the client and inheritance carries them everywhere.
const (
	MetaAlgoliaAppID  = "algolia_app_id"
	MetaAlgoliaAPIKey = "algolia_api_key"
	MetaAlgoliaIndex  = "algolia_index"
)

// shapeREST routes the mapped payload by HTTP method: query parameters
// for GET, DELETE, HEAD, and OPTIONS, JSON body otherwise. An explicit
// body override wins and pushes the payload to the query string.
func shapeREST(req *transport.Request, payload map[string]any, body any) *transport.Request {
	if body != nil {
		out := req.WithBody(body)
		if len(payload) > 0 {
			out = out.WithParams(payload)
		}
		return out
	}
	switch req.Method {
	case "GET", "DELETE", "HEAD", "OPTIONS":
		if len(payload) > 0 {
			return req.WithParams(payload)
		}
		return req
	default:
		if len(payload) > 0 {
			return req.WithBody(payload)
		}
		return req
	}
}

// shapeGraphQL posts {query, variables} as the JSON body. The mapped
// payload becomes the variables object.
func shapeGraphQL(req *transport.Request, query string, variables map[string]any) *transport.Request {
	if variables == nil {
		variables = map[string]any{}
	}
	return req.WithBody(map[string]any{
		"query":     query,
		"variables": variables,
	})
}

// shapeAlgolia targets the Algolia search endpoint: the mapped payload is
// form-encoded into the "params" string of the JSON body, and the
// X-Algolia-* identification headers come from the method's merged
// metadata. A path already containing /indexes/ is used verbatim;
// otherwise the trailing path segment (or the algolia_index metadata key)
// names the index.
func shapeAlgolia(req *transport.Request, m *descriptor.MethodDescriptor, payload map[string]any) (*transport.Request, error) {
	path := req.Path
	if !strings.Contains(path, "/indexes/") {
		index := lastPathSegment(path)
		if index == "" {
			index = metaString(m, MetaAlgoliaIndex)
		}
		if index == "" {
			return nil, &libretoerrors.ConfigError{
				Key:    "path",
				Reason: fmt.Sprintf("algolia method %s needs an index: add a path segment or %s metadata", m.Name, MetaAlgoliaIndex),
			}
		}
		path = "/1/indexes/" + url.PathEscape(index) + "/query"
	}

	values := url.Values{}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, err := formValue(payload[k])
		if err != nil {
			return nil, &libretoerrors.MappingError{
				Parameter: k,
				Stage:     "encode",
				Value:     payload[k],
				Message:   "value cannot be form-encoded",
				Cause:     err,
			}
		}
		values.Set(k, s)
	}

	out := req.WithPath(path).WithBody(map[string]any{"params": values.Encode()})
	if appID := metaString(m, MetaAlgoliaAppID); appID != "" && !hasHeaderKey(out.Headers, "X-Algolia-Application-Id") {
		out = out.WithHeader("X-Algolia-Application-Id", appID)
	}
	if key := metaString(m, MetaAlgoliaAPIKey); key != "" && !hasHeaderKey(out.Headers, "X-Algolia-API-Key") {
		out = out.WithHeader("X-Algolia-API-Key", key)
	}
	return out, nil
}

// formValue renders one payload value for the Algolia params string.
// Scalars use their string form, compounds their JSON encoding.
func formValue(v any) (string, error) {
	if s, err := cast.ToStringE(v); err == nil {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func lastPathSegment(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

func metaString(m *descriptor.MethodDescriptor, key string) string {
	store := m.Meta()
	if store == nil {
		return ""
	}
	v, ok := store.Get(key)
	if !ok {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return s
}

func hasHeaderKey(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
