package proxy

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"modelrelay/internal/config"
	"modelrelay/internal/transform"
)

// Route is the compiled per-model configuration: the upstream coordinates
// plus every artifact built once at startup (transform pipelines, retry
// executor, pooled HTTP client). Routes are immutable and shared read-only
// across concurrent requests.
type Route struct {
	Name        string
	Backend     string
	Endpoint    string
	APIKey      string
	TargetModel string
	Timeout     time.Duration
	SSLVerify   bool
	Headers     config.HeaderPolicy
	Request     *transform.Pipeline
	Response    *transform.Pipeline
	Retry       *Executor
	Client      *http.Client
}

// BackendModel returns the model name actually sent upstream.
func (r *Route) BackendModel() string {
	if r.TargetModel != "" {
		return r.TargetModel
	}
	return r.Name
}

// Router resolves client-visible model names to routes. Matching is exact
// and case-sensitive; there are no wildcards and no fallback route.
type Router struct {
	routes map[string]*Route
}

// NewRouter compiles every configured model into a route. Clients are drawn
// from one factory so routes with the same (ssl_verify, timeout) tuple share
// a connection pool.
func NewRouter(cfg *config.Config, log *zap.Logger) (*Router, error) {
	factory := NewClientFactory()
	routes := make(map[string]*Route, len(cfg.Models))

	for name, m := range cfg.Models {
		reqPipeline, err := transform.Compile(m.Transforms.Request)
		if err != nil {
			return nil, fmt.Errorf("model %q: request transforms: %w", name, err)
		}
		respPipeline, err := transform.Compile(m.Transforms.Response)
		if err != nil {
			return nil, fmt.Errorf("model %q: response transforms: %w", name, err)
		}

		sslVerify := m.SSLVerifyEnabled()
		if !sslVerify {
			log.Warn("TLS certificate validation is disabled for this route",
				zap.String("model", name),
				zap.String("endpoint", m.Endpoint),
			)
		}

		route := &Route{
			Name:        name,
			Backend:     m.Backend,
			Endpoint:    m.Endpoint,
			APIKey:      m.APIKey,
			TargetModel: m.TargetModel,
			Timeout:     m.Timeout(),
			SSLVerify:   sslVerify,
			Headers:     m.Headers,
			Request:     reqPipeline,
			Response:    respPipeline,
			Retry:       NewExecutor(m.Retry),
			Client:      factory.Get(sslVerify, m.Timeout()),
		}
		routes[name] = route

		log.Info("Registered model route",
			zap.String("model", name),
			zap.String("target_model", route.BackendModel()),
			zap.String("backend", m.Backend),
			zap.String("endpoint", m.Endpoint),
			zap.Bool("ssl_verify", sslVerify),
		)
	}

	return &Router{routes: routes}, nil
}

// Resolve looks up the route for a model name.
func (r *Router) Resolve(model string) (*Route, bool) {
	route, ok := r.routes[model]
	return route, ok
}

// Models returns the configured model names in sorted order.
func (r *Router) Models() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
