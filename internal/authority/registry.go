package authority

import (
	"net"
	"sort"

	"github.com/blukai/netplay/internal/protocol"
	"github.com/cespare/xxhash/v2"
)

type addrKey uint64

func makeAddrKey(addr *net.UDPAddr) addrKey {
	return addrKey(xxhash.Sum64String(addr.String()))
}

// smallestUnused returns the smallest positive id that is not a key of m.
// It is a linear scan, which is fine at the scale of one game session.
func smallestUnused[V any](m map[int32]V) int32 {
	id := int32(1)
	for {
		if _, ok := m[id]; !ok {
			return id
		}
		id += 1
	}
}

type peer struct {
	id   int32
	addr *net.UDPAddr
}

// Registry maps client ids to reply addresses. Entries are never removed.
// It does no locking of its own; Authority guards it.
type Registry struct {
	peers  map[int32]*net.UDPAddr
	byAddr map[addrKey]int32
}

func NewRegistry() *Registry {
	return &Registry{
		peers:  make(map[int32]*net.UDPAddr),
		byAddr: make(map[addrKey]int32),
	}
}

func (r *Registry) AllocateID() int32 {
	return smallestUnused(r.peers)
}

// Register returns the id for addr, allocating one if addr is new. A peer
// that repeats its sync because the reply got lost keeps its id.
func (r *Registry) Register(addr *net.UDPAddr) (id int32, fresh bool) {
	key := makeAddrKey(addr)
	if id, ok := r.byAddr[key]; ok {
		return id, false
	}

	id = r.AllocateID()
	r.peers[id] = addr
	r.byAddr[key] = id
	return id, true
}

// RegisterLoopback records the host's own in-process client under
// protocol.TargetLoopback.
func (r *Registry) RegisterLoopback(addr *net.UDPAddr) {
	r.peers[protocol.TargetLoopback] = addr
	r.byAddr[makeAddrKey(addr)] = protocol.TargetLoopback
}

func (r *Registry) Lookup(addr *net.UDPAddr) (int32, bool) {
	id, ok := r.byAddr[makeAddrKey(addr)]
	return id, ok
}

func (r *Registry) Addr(id int32) (*net.UDPAddr, bool) {
	addr, ok := r.peers[id]
	return addr, ok
}

// Len counts remote peers, the loopback entry excluded.
func (r *Registry) Len() int {
	n := len(r.peers)
	if _, ok := r.peers[protocol.TargetLoopback]; ok {
		n -= 1
	}
	return n
}

// others lists every remote peer except the given one, ordered by id. The
// loopback peer is never included: it lives in the same process.
func (r *Registry) others(except int32) []peer {
	out := make([]peer, 0, len(r.peers))
	for id, addr := range r.peers {
		if id == except || id == protocol.TargetLoopback {
			continue
		}
		out = append(out, peer{id: id, addr: addr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
