package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"HydrophoneStreamer/internal/domain"
)

// ErrUnsupportedNetwork is returned for networks without an implementation.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// Provider captures a single archive implementation (ONC, OOI, etc.).
type Provider interface {
	Network() domain.Network
	// BuiltInDelay is the minimum latency between recording and publication.
	BuiltInDelay() time.Duration
	// List returns the files available for the window.
	List(ctx context.Context, window domain.Window) (domain.Listing, error)
	// Fetch transfers a single entry into the save directory and returns its path.
	Fetch(ctx context.Context, entry domain.RemoteEntry) (string, error)
	// Citation renders a BibTeX record describing the data source.
	Citation(ctx context.Context, window domain.Window) (string, error)
}

// Orderer is implemented by providers that can place asynchronous product
// orders when the direct listing comes back empty.
type Orderer interface {
	// PlaceOrder tries the fallback parameter sets in order and returns the
	// first accepted order. ok is false when every candidate was rejected.
	PlaceOrder(ctx context.Context, window domain.Window) (order domain.PendingOrder, ok bool, err error)
	// CollectOrder downloads whatever part of the order is ready. done reports
	// that the order is fully delivered or can no longer be delivered.
	CollectOrder(ctx context.Context, order *domain.PendingOrder) (paths []string, done bool, err error)
}

// Factory builds a provider. Construction validates the stream setting and
// may issue requests, hence the context.
type Factory func(ctx context.Context) (Provider, error)

// Registry maps networks to the factories of their implementations.
type Registry struct {
	factories map[domain.Network]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[domain.Network]Factory{}}
}

// Register adds or replaces the factory of a network.
func (r *Registry) Register(network domain.Network, factory Factory) {
	if r.factories == nil {
		r.factories = map[domain.Network]Factory{}
	}
	r.factories[network] = factory
}

// Build constructs the provider of network, or fails if none is registered.
func (r *Registry) Build(ctx context.Context, network domain.Network) (Provider, error) {
	factory, ok := r.factories[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
	p, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", network, err)
	}
	return p, nil
}

// ParseNetwork maps a CLI/config value onto the enumeration.
func ParseNetwork(value string) (domain.Network, error) {
	switch domain.Network(value) {
	case domain.NetworkONC, domain.NetworkOOI:
		return domain.Network(value), nil
	case domain.NetworkOrcasound:
		return "", fmt.Errorf("%w: %s is not implemented yet", ErrUnsupportedNetwork, value)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, value)
	}
}
