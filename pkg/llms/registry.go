package llms

import (
	"fmt"

	"github.com/kadirpekel/hector/pkg/auth"
	"github.com/kadirpekel/hector/pkg/config"
	"github.com/kadirpekel/hector/pkg/registry"
)

// Registry holds constructed Provider instances keyed by their config name,
// building the L0→L1→L2 transport stack (httpclient.Client → auth.Transport
// → Provider) for each one.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Provider]()}
}

func refreshEndpointFor(cfg *config.ProviderConfig) auth.RefreshEndpoint {
	if cfg.OAuthRefreshURL != "" {
		return auth.RefreshEndpoint{URL: cfg.OAuthRefreshURL, ClientID: cfg.OAuthClientID}
	}
	if cfg.Type == config.ProviderAnthropic {
		ep := auth.DefaultAnthropicRefreshEndpoint
		ep.ClientID = cfg.OAuthClientID
		return ep
	}
	return auth.RefreshEndpoint{}
}

// CreateProvider builds and registers a Provider named name from cfg/model.
// onTokenUpdate, if non-nil, is invoked once per successful OAuth refresh so
// the caller can persist the new credentials.
func (r *Registry) CreateProvider(name string, cfg *config.ProviderConfig, model string, onTokenUpdate auth.OnTokenUpdate) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("llms: provider name cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("llms: provider config cannot be nil")
	}

	var refresher *auth.Refresher
	if cfg.Auth.Kind == config.AuthKindOAuth {
		endpoint := refreshEndpointFor(cfg)
		if endpoint.URL == "" {
			return nil, fmt.Errorf("llms: provider %q: OAuth requires an explicit refresh endpoint for type %q", name, cfg.Type)
		}
		refresher = auth.NewRefresher(endpoint, onTokenUpdate, nil)
	}

	var transport *auth.Transport
	var provider Provider

	switch cfg.Type {
	case config.ProviderAnthropic:
		transport = auth.NewTransport(createAnthropicHTTPClient(cfg), cfg.Type, name, cfg.Auth, refresher)
		provider = NewAnthropicProvider(name, cfg, model, transport)
	case config.ProviderOpenAICompat:
		transport = auth.NewTransport(createHTTPClient(cfg), cfg.Type, name, cfg.Auth, refresher)
		provider = NewOpenAIProvider(name, cfg, model, transport)
	default:
		return nil, fmt.Errorf("llms: unsupported provider type %q", cfg.Type)
	}

	if err := r.Register(name, provider); err != nil {
		return nil, fmt.Errorf("llms: register provider %q: %w", name, err)
	}
	return provider, nil
}

// GetProvider returns the registered provider by name.
func (r *Registry) GetProvider(name string) (Provider, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("llms: provider %q not found", name)
	}
	return p, nil
}

// ListProviders returns the names of every registered provider.
func (r *Registry) ListProviders() []string {
	return r.Names()
}
