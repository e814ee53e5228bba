package gateway

import (
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// BuildOptions controls registry construction
type BuildOptions struct {
	HTTP          HTTPOptions
	MockEnabled   bool
	MockSlowDelay time.Duration
}

// Build creates a registry from configuration. routes maps "CURRENCY/method"
// to a provider name. A provider is only registered when its credentials are
// complete, so a route to a provider without credentials resolves to nothing
// and the transaction fails with NoGatewayConfigured.
func Build(routes map[string]string, providers map[string]ProviderConfig, opts BuildOptions) (*Registry, error) {
	registry := NewRegistry()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg := providers[name]
		if !cfg.Complete() {
			log.WithField("gateway", name).Warn("Gateway credentials incomplete, profile not registered")
			continue
		}
		registry.Register(NewHTTPProfile(name, cfg, opts.HTTP))
		log.WithFields(log.Fields{
			"gateway":  name,
			"endpoint": cfg.URL,
		}).Info("Gateway profile registered")
	}
	if opts.MockEnabled {
		registry.Register(NewMockProfile(MockProfileName, opts.MockSlowDelay))
		log.WithField("gateway", MockProfileName).Warn("Mock gateway enabled, charges are not sent to any provider")
	}

	for key, profile := range routes {
		currency, method, err := ParseRouteKey(key)
		if err != nil {
			return nil, err
		}
		registry.Route(currency, method, profile)
		if _, ok := registry.Profile(profile); !ok {
			log.WithFields(log.Fields{
				"route":   key,
				"gateway": profile,
			}).Warn("Route points at an unavailable gateway")
		}
	}
	return registry, nil
}
