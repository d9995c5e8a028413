// Package client binds compiled descriptors to runtime objects: a Client
// owns one shared session, Resources wrap descriptor nodes, and method
// calls run the build, transform, authenticate, send, extract pipeline.
// Pagination, batching, and chaining utilities are strictly sequential;
// the package spawns no goroutines of its own.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/libretto/internal/jq"
	"github.com/tombee/libretto/internal/log"
	"github.com/tombee/libretto/internal/secrets"
	"github.com/tombee/libretto/pkg/auth"
	"github.com/tombee/libretto/pkg/descriptor"
	libretoerrors "github.com/tombee/libretto/pkg/errors"
	"github.com/tombee/libretto/pkg/session"
	"github.com/tombee/libretto/pkg/transform"
	"github.com/tombee/libretto/pkg/transport"
)

const tracerName = "github.com/tombee/libretto/pkg/client"

// Options configure a client. All fields are optional.
type Options struct {
	// Logger receives structured logs; nil discards them. No global
	// logger is ever installed.
	Logger *slog.Logger

	// TracerProvider supplies spans for client and session operations
	TracerProvider trace.TracerProvider

	// MeterProvider mirrors session metrics to OpenTelemetry instruments
	MeterProvider metric.MeterProvider

	// Transport replaces the HTTP transport entirely
	Transport transport.Transport

	// HTTPClient replaces the net/http client inside the default
	// transport; session transport settings (TLS, proxy) do not apply
	HTTPClient *http.Client

	// Resolver resolves secret:// and ${ENV} credential references
	Resolver *secrets.Resolver
}

// Option mutates Options.
type Option func(*Options)

// WithLogger injects the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithTracerProvider injects the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) { o.TracerProvider = tp }
}

// WithMeterProvider injects the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) { o.MeterProvider = mp }
}

// WithTransport injects a custom transport.
func WithTransport(t transport.Transport) Option {
	return func(o *Options) { o.Transport = t }
}

// WithHTTPClient injects the net/http client used by the default transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

// WithSecretsResolver injects the secret reference resolver used when
// constructing the auth strategy.
func WithSecretsResolver(r *secrets.Resolver) Option {
	return func(o *Options) { o.Resolver = r }
}

// Client executes methods declared by a compiled descriptor. Every
// resource shares the client's session, transport, and auth strategy by
// reference, so cookies, tokens, and metrics accumulate in one place. A
// Client is safe for concurrent use.
type Client struct {
	desc     *descriptor.ClientDescriptor
	session  *session.Session
	pipeline *transform.Pipeline
	jq       *jq.Executor
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New compiles the descriptor (when not already compiled), instantiates
// the auth strategy, builds the shared session, and binds resources.
func New(desc *descriptor.ClientDescriptor, opts ...Option) (*Client, error) {
	if desc == nil {
		return nil, &libretoerrors.ConfigError{
			Key:    "client",
			Reason: "descriptor is required",
		}
	}

	compiled, err := desc.Compile()
	if err != nil {
		return nil, err
	}

	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = log.Discard()
	}
	if o.Resolver != nil {
		o.Logger = log.WithRedactor(o.Logger, o.Resolver.Masker().Mask)
	}
	compiled.SetLogger(o.Logger)

	tp := o.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	ctx := context.Background()

	var strategy auth.Strategy
	if desc.Auth != nil {
		authOpts := []auth.Option{auth.WithLogger(o.Logger)}
		if o.Resolver != nil {
			authOpts = append(authOpts, auth.WithResolver(o.Resolver))
		}
		if o.HTTPClient != nil {
			authOpts = append(authOpts, auth.WithHTTPClient(o.HTTPClient))
		}
		strategy, err = auth.New(ctx, desc.Auth, authOpts...)
		if err != nil {
			return nil, err
		}
	}

	sessionOpts := []session.Option{
		session.WithName(desc.Name),
		session.WithLogger(o.Logger),
	}
	if strategy != nil {
		sessionOpts = append(sessionOpts, session.WithAuth(strategy))
	}
	if o.TracerProvider != nil {
		sessionOpts = append(sessionOpts, session.WithTracerProvider(o.TracerProvider))
	}
	if o.MeterProvider != nil {
		sessionOpts = append(sessionOpts, session.WithMeterProvider(o.MeterProvider))
	}
	switch {
	case o.Transport != nil:
		sessionOpts = append(sessionOpts, session.WithTransport(o.Transport))
	case o.HTTPClient != nil:
		ht, terr := transport.NewHTTPTransport(nil)
		if terr != nil {
			return nil, terr
		}
		ht.SetHTTPClient(o.HTTPClient)
		sessionOpts = append(sessionOpts, session.WithTransport(ht))
	}

	sess, err := session.New(ctx, desc.Session, sessionOpts...)
	if err != nil {
		return nil, err
	}

	pipeline := transform.NewPipeline()
	for i := range desc.Transforms {
		t, terr := desc.Transforms[i].Build()
		if terr != nil {
			return nil, fmt.Errorf("transform %d: %w", i, terr)
		}
		pipeline.Add(t)
	}

	return &Client{
		desc:     desc,
		session:  sess,
		pipeline: pipeline,
		jq:       jq.NewExecutor(0, 0),
		logger:   o.Logger,
		tracer:   tp.Tracer(tracerName),
	}, nil
}

// Name returns the client's compiled name.
func (c *Client) Name() string { return c.desc.Name }

// Descriptor returns the compiled descriptor backing this client.
func (c *Client) Descriptor() *descriptor.ClientDescriptor { return c.desc }

// Session returns the shared session.
func (c *Client) Session() *session.Session { return c.session }

// Resource looks up a top-level resource by name.
func (c *Client) Resource(name string) (*Resource, error) {
	rd, err := c.desc.Resource(name)
	if err != nil {
		return nil, err
	}
	return &Resource{client: c, desc: rd}, nil
}

// Authenticate runs the auth strategy's upfront flow, for strategies that
// support priming credentials before the first request.
func (c *Client) Authenticate(ctx context.Context) error {
	return c.session.Authenticate(ctx)
}

// Close persists session state and releases pooled transport connections.
func (c *Client) Close(ctx context.Context) error {
	err := c.session.Close(ctx)
	type idleCloser interface{ CloseIdleConnections() }
	if t, ok := c.session.Transport().(idleCloser); ok {
		t.CloseIdleConnections()
	}
	return err
}

// Chain starts an empty request chain bound to this client.
func (c *Client) Chain() *RequestChain {
	return &RequestChain{}
}

// applyTransforms runs the request-level pipeline. Each transform shapes
// the request part named by its category; one shared transform context
// spans the run so payload transforms see keys claimed by earlier ones.
func (c *Client) applyTransforms(ctx context.Context, req *transport.Request) (*transport.Request, error) {
	if c.pipeline.Len() == 0 {
		return req, nil
	}
	tc := transform.NewContext()
	out := req
	for _, t := range c.pipeline.Ordered() {
		next, err := applyTransform(ctx, t, out, tc)
		if err != nil {
			return nil, libretoerrors.Wrapf(err, "transform %s", t.Name())
		}
		out = next
		tc.History = append(tc.History, t.Name())
	}
	return out, nil
}
