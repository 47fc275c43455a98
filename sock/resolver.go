package sock

import (
	"net"
	"sync"
	"time"
)

// Resolver is the DNS collaborator: asynchronous lookups with a
// process-wide positive cache and cancellable callbacks.
type Resolver interface {
	Resolve(host string, port int, cb func(ip net.IP, err error)) (cancel func())
	GetAddress(host string) (net.IP, bool)
}

type resolverEntry struct {
	ip      net.IP
	expires time.Time
}

// CachedResolver resolves through the net package on a worker
// goroutine and caches answers.
type CachedResolver struct {
	mu    sync.Mutex
	cache map[string]resolverEntry

	// TTL bounds cache entries; default one minute.
	TTL time.Duration
}

var defaultResolver = NewCachedResolver()

// DefaultResolver returns the process-wide resolver cache.
func DefaultResolver() *CachedResolver {
	return defaultResolver
}

func NewCachedResolver() *CachedResolver {
	return &CachedResolver{cache: make(map[string]resolverEntry)}
}

// GetAddress returns the cached address for host, if still fresh.
func (r *CachedResolver) GetAddress(host string) (net.IP, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.cache[host]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.ip, true
}

// Resolve answers from the cache when possible, otherwise looks the
// host up on a goroutine. The returned cancel drops the callback; a
// cancelled lookup still populates the cache.
func (r *CachedResolver) Resolve(host string, port int, cb func(ip net.IP, err error)) (cancel func()) {
	if ip := net.ParseIP(host); ip != nil {
		cb(ip, nil)
		return func() {}
	}

	if ip, ok := r.GetAddress(host); ok {
		cb(ip, nil)
		return func() {}
	}

	var (
		mu        sync.Mutex
		cancelled bool
	)

	go func() {
		ips, err := net.LookupIP(host)

		var ip net.IP
		if err == nil && len(ips) > 0 {
			ip = ips[0]

			ttl := r.TTL
			if ttl <= 0 {
				ttl = time.Minute
			}

			r.mu.Lock()
			r.cache[host] = resolverEntry{ip: ip, expires: time.Now().Add(ttl)}
			r.mu.Unlock()
		}

		mu.Lock()
		dead := cancelled
		mu.Unlock()
		if dead {
			return
		}

		if err == nil && ip == nil {
			err = &net.DNSError{Err: "no addresses", Name: host}
		}
		cb(ip, err)
	}()

	return func() {
		mu.Lock()
		cancelled = true
		mu.Unlock()
	}
}
