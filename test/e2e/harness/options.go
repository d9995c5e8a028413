package harness

import (
	"time"

	"github.com/tombee/libretto/pkg/client"
)

// Option configures the test harness.
type Option func(*Harness) error

// WithAPI supplies a pre-scripted mock API instead of a fresh one.
//
// Example:
//
//	api := harness.NewMockAPI()
//	api.Handle("GET", "/ping", harness.MockResponse{Body: "pong"})
//	h := harness.New(t, harness.WithAPI(api))
func WithAPI(api *MockAPI) Option {
	return func(h *Harness) error {
		h.api = api
		return nil
	}
}

// WithTimeout sets a custom timeout for calls made through the harness.
// Default is 30 seconds.
//
// Example:
//
//	h := harness.New(t, harness.WithTimeout(5*time.Second))
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) error {
		h.timeout = d
		return nil
	}
}

// WithClientOption passes options directly to client construction.
// This allows configuring the client beyond what the harness provides.
//
// Example:
//
//	h := harness.New(t,
//		harness.WithClientOption(client.WithLogger(logger)),
//	)
func WithClientOption(opt client.Option) Option {
	return func(h *Harness) error {
		h.clientOpts = append(h.clientOpts, opt)
		return nil
	}
}
