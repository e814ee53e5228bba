package gateway

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ashendes/petadoption-payments/internal/models"
)

type routeKey struct {
	currency string
	method   models.PaymentMethod
}

// ParseRouteKey parses "USD/card" into its currency and method
func ParseRouteKey(key string) (string, models.PaymentMethod, error) {
	currency, method, ok := strings.Cut(strings.TrimSpace(key), "/")
	currency = strings.ToUpper(strings.TrimSpace(currency))
	method = strings.ToLower(strings.TrimSpace(method))
	if !ok || currency == "" || method == "" {
		return "", "", fmt.Errorf("route %q must look like CURRENCY/method", key)
	}
	return currency, models.PaymentMethod(method), nil
}

// Registry maps (currency, method) pairs to named profiles. A route that
// names a profile which was never registered resolves to nothing; there is
// no fallback profile.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	routes   map[routeKey]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[string]Profile),
		routes:   make(map[routeKey]string),
	}
}

// Register adds or replaces a profile under its name
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name()] = p
}

// Route sends (currency, method) to the profile called profileName
func (r *Registry) Route(currency string, method models.PaymentMethod, profileName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[routeKey{currency: strings.ToUpper(currency), method: method}] = profileName
}

// Resolve returns the profile for (currency, method)
func (r *Registry) Resolve(currency string, method models.PaymentMethod) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.routes[routeKey{currency: strings.ToUpper(currency), method: method}]
	if !ok {
		return nil, false
	}
	p, ok := r.profiles[name]
	return p, ok
}

// Profile returns a registered profile by name
func (r *Registry) Profile(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	return p, ok
}

// Names lists registered profile names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
