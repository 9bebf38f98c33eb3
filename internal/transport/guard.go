package transport

import (
	"net"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

// maxTrackedSources bounds the limiter table; spoofed source addresses
// would otherwise grow it forever.
const maxTrackedSources = 4096

type addrKey uint64

func makeAddrKey(addr *net.UDPAddr) addrKey {
	return addrKey(xxhash.Sum64String(addr.String()))
}

// guard rate limits inbound datagrams per source address. It is only used
// from the loop goroutine.
type guard struct {
	limit    rate.Limit
	burst    int
	limiters map[addrKey]*rate.Limiter
}

func newGuard(limit rate.Limit, burst int) *guard {
	if burst <= 0 {
		burst = 1
	}
	return &guard{
		limit:    limit,
		burst:    burst,
		limiters: make(map[addrKey]*rate.Limiter),
	}
}

func (g *guard) allow(addr *net.UDPAddr) bool {
	key := makeAddrKey(addr)

	limiter, ok := g.limiters[key]
	if !ok {
		if len(g.limiters) >= maxTrackedSources {
			g.limiters = make(map[addrKey]*rate.Limiter)
		}
		limiter = rate.NewLimiter(g.limit, g.burst)
		g.limiters[key] = limiter
	}

	return limiter.Allow()
}
