package geodb

import (
	"errors"
	"fmt"
	"net"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

// Batches tend to repeat addresses; keep a bounded cache of outcomes so
// each distinct address hits the databases once.
const resolverCacheSize = 512

type cachedOutcome struct {
	result Result
	err    error
}

// Resolver answers lookups by consulting its sources in order. The first
// source that returns a record wins.
type Resolver struct {
	sources []Source
	cache   *lru.Cache
}

// Resolve parses addr as an IPv4 or IPv6 address and resolves it. Format
// errors, private/reserved ranges and misses in every source all come back
// as an error with an empty Result; none of them is fatal to a batch.
func (r *Resolver) Resolve(addr string) (Result, error) {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return Result{}, fmt.Errorf("not a valid IPv4 or IPv6 address: %q", addr)
	}

	if reservedIP(ip) {
		return Result{}, fmt.Errorf("address %s is in a private or reserved range", ip)
	}

	key := ip.String()

	if cached, ok := r.cache.Get(key); ok {
		outcome := cached.(cachedOutcome)

		return outcome.result, outcome.err
	}

	result, err := r.lookup(ip)
	r.cache.Add(key, cachedOutcome{result: result, err: err})

	return result, err
}

func (r *Resolver) lookup(ip net.IP) (Result, error) {
	for _, source := range r.sources {
		result, err := source.Lookup(ip)

		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, ErrAddressNotFound):
			continue
		case errors.Is(err, ErrDatabaseMissing):
			continue
		default:
			return Result{}, fmt.Errorf("%s lookup has failed: %w", source.Name(), err)
		}
	}

	return Result{}, ErrAddressNotFound
}

// Shutdown closes all sources.
func (r *Resolver) Shutdown() {
	for _, source := range r.sources {
		source.Shutdown()
	}
}

func reservedIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast()
}

// NewResolver builds a resolver over the given sources. Order matters: it
// defines lookup precedence.
func NewResolver(sources ...Source) (*Resolver, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one source is required")
	}

	cache, err := lru.New(resolverCacheSize)
	if err != nil {
		return nil, fmt.Errorf("cannot create a cache: %w", err)
	}

	return &Resolver{
		sources: sources,
		cache:   cache,
	}, nil
}
