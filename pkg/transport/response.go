package transport

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Response is a transport-agnostic response.
type Response struct {
	// StatusCode is the HTTP status code
	StatusCode int

	// Headers contains response headers
	Headers http.Header

	// Body is the raw response body
	Body []byte

	// Request is the prepared request that produced this response
	Request *Request

	// Metadata contains transport-specific data (request ID, retry count)
	Metadata map[string]any

	jsonOnce  sync.Once
	jsonValue any
	jsonErr   error
}

// JSON parses the body as JSON once and caches both the value and the error.
// Later calls return the cached pair without re-parsing.
func (r *Response) JSON() (any, error) {
	r.jsonOnce.Do(func() {
		if len(r.Body) == 0 {
			r.jsonValue = nil
			return
		}
		var v any
		if err := json.Unmarshal(r.Body, &v); err != nil {
			r.jsonErr = err
			return
		}
		r.jsonValue = v
	})
	return r.jsonValue, r.jsonErr
}

// IsError reports whether the status code indicates a failure.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// Header returns the first value for the named header, case-insensitively.
func (r *Response) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// RequestID returns the service request ID when the transport captured one.
func (r *Response) RequestID() string {
	if r.Metadata == nil {
		return ""
	}
	id, _ := r.Metadata[MetadataRequestID].(string)
	return id
}
