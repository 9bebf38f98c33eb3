package authority

import (
	"errors"
	"fmt"

	"github.com/blukai/netplay/internal/protocol"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrNotOwner      = errors.New("sender does not own entity")
)

// Entities is the authoritative entity map. Like Registry it relies on
// Authority for locking.
type Entities struct {
	players map[int32]protocol.EntityState
}

func NewEntities() *Entities {
	return &Entities{
		players: make(map[int32]protocol.EntityState),
	}
}

// AllocateID does not reserve anything; calling it twice without an Add in
// between returns the same id.
func (e *Entities) AllocateID() int32 {
	return smallestUnused(e.players)
}

// Add stamps owner and a fresh object id onto s and stores it.
func (e *Entities) Add(s protocol.EntityState, owner int32) protocol.EntityState {
	s.ObjectID = e.AllocateID()
	s.OwnerID = owner
	e.players[s.ObjectID] = s
	return s
}

// ApplyMotion updates an entity on behalf of sender, who must own it.
func (e *Entities) ApplyMotion(sender, objectID int32, m protocol.Motion) (protocol.EntityState, error) {
	s, ok := e.players[objectID]
	if !ok {
		return s, fmt.Errorf("%w: %d", ErrUnknownEntity, objectID)
	}
	if s.OwnerID != sender {
		return s, fmt.Errorf("%w: entity %d (owner %d; sender %d)", ErrNotOwner, objectID, s.OwnerID, sender)
	}

	s.ApplyMotion(m)
	e.players[objectID] = s
	return s, nil
}

func (e *Entities) Get(objectID int32) (protocol.EntityState, bool) {
	s, ok := e.players[objectID]
	return s, ok
}

func (e *Entities) Len() int {
	return len(e.players)
}

func (e *Entities) Snapshot() map[int32]protocol.EntityState {
	out := make(map[int32]protocol.EntityState, len(e.players))
	for id, s := range e.players {
		out[id] = s
	}
	return out
}
