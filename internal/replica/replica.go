package replica

import (
	"io"
	"sync"

	"github.com/blukai/netplay/internal/protocol"
	"github.com/phuslu/log"
)

// Cache is a peer's mirror of the authority's entity map. Full pulls replace
// it wholesale; motion broadcasts patch single entities it already knows.
type Cache struct {
	mu      sync.Mutex
	players map[int32]protocol.EntityState

	logger *log.Logger
}

func New(logger *log.Logger) *Cache {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &Cache{
		players: make(map[int32]protocol.EntityState),
		logger:  logger,
	}
}

// Replace is last-writer-wins at whole map granularity; nothing is merged.
func (c *Cache) Replace(players map[int32]protocol.EntityState) {
	next := make(map[int32]protocol.EntityState, len(players))
	for id, s := range players {
		next[id] = s
	}

	c.mu.Lock()
	c.players = next
	c.mu.Unlock()
}

func (c *Cache) Insert(s protocol.EntityState) {
	c.mu.Lock()
	c.players[s.ObjectID] = s
	c.mu.Unlock()
}

// ApplyMotion patches a known entity. Updates for entities this peer hasn't
// learned about yet are dropped, not buffered.
func (c *Cache) ApplyMotion(objectID int32, m protocol.Motion) bool {
	c.mu.Lock()
	s, ok := c.players[objectID]
	if ok {
		s.ApplyMotion(m)
		c.players[objectID] = s
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn().
			Int("object_id", int(objectID)).
			Msg("motion update for unknown entity, dropping")
	}
	return ok
}

func (c *Cache) Get(objectID int32) (protocol.EntityState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.players[objectID]
	return s, ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.players)
}

// Snapshot returns a copy the caller may keep.
func (c *Cache) Snapshot() map[int32]protocol.EntityState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int32]protocol.EntityState, len(c.players))
	for id, s := range c.players {
		out[id] = s
	}
	return out
}
