// Package netconf builds the immutable Network Registry from configuration
// (§3 Network Descriptor, §6 rpc.networks.<key>), generalizing the
// teacher's single flat upstream_url into the multi-network registry the
// spec requires, with a global primary/fallback pair used when a network
// defines no fallback of its own.
package netconf

import (
	"fmt"
	"time"

	"github.com/rpcguard/rpcguard/internal/config"
	"github.com/rpcguard/rpcguard/internal/router"
	"github.com/rpcguard/rpcguard/internal/upstream"
)

// DefaultNetworkKey names the network requests posted to the root endpoint
// go to when a network with this key is configured (§6 "POST / ... RPC to
// default network"); otherwise Registry.DefaultKey picks the only network,
// or the alphabetically first one.
const DefaultNetworkKey = "default"

// Registry holds every configured Network, immutable after Build.
type Registry struct {
	networks map[string]router.Network
	// defaultKey is the key requests to POST / are routed to.
	defaultKey string
}

// Build constructs a Registry from cfg.RPC. Networks are created once at
// startup and never mutated (§3 Ownership).
func Build(cfg config.RPCConfig) (*Registry, error) {
	if len(cfg.Networks) == 0 {
		return nil, fmt.Errorf("netconf: at least one network must be configured")
	}

	globalFallback := toDescriptor(cfg.Upstreams.Fallback, 100)

	networks := make(map[string]router.Network, len(cfg.Networks))
	var firstKey string
	for key, nc := range cfg.Networks {
		if firstKey == "" || key < firstKey {
			firstKey = key
		}

		primary := toDescriptor(nc, 0)

		var fallback *upstream.Descriptor
		if nc.FallbackURL != "" {
			fb := toDescriptor(config.NetworkConfig{
				URL:        nc.FallbackURL,
				Timeout:    nc.Timeout,
				Retries:    nc.Retries,
				RetryDelay: nc.RetryDelay,
				Priority:   100,
			}, 100)
			fallback = &fb
		} else if globalFallback.URL != "" {
			fb := globalFallback
			fallback = &fb
		}

		networks[key] = router.Network{Key: key, Primary: primary, Fallback: fallback}
	}

	defaultKey := firstKey
	if _, ok := cfg.Networks[DefaultNetworkKey]; ok {
		defaultKey = DefaultNetworkKey
	} else if len(cfg.Networks) == 1 {
		for k := range cfg.Networks {
			defaultKey = k
		}
	}

	return &Registry{networks: networks, defaultKey: defaultKey}, nil
}

func toDescriptor(nc config.NetworkConfig, defaultPriority int) upstream.Descriptor {
	priority := nc.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	timeout := nc.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryDelay := nc.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 200 * time.Millisecond
	}
	return upstream.Descriptor{
		URL:        nc.URL,
		Timeout:    timeout,
		MaxRetries: nc.Retries,
		RetryDelay: retryDelay,
		Priority:   priority,
	}
}

// Lookup returns the Network for key, or ok=false if key is unknown
// (§6 "404 if unknown").
func (r *Registry) Lookup(key string) (router.Network, bool) {
	n, ok := r.networks[key]
	return n, ok
}

// DefaultKey returns the network key requests to POST / are routed to.
func (r *Registry) DefaultKey() string {
	return r.defaultKey
}

// Keys returns every configured network key, for /stats and startup wiring.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.networks))
	for k := range r.networks {
		keys = append(keys, k)
	}
	return keys
}
