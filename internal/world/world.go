package world

import (
	"sort"
	"sync"

	"github.com/blukai/netplay/internal/protocol"
)

const MaxHealth int32 = 100

// Entity is the live, locally simulated side of a replicated player. Only
// State travels over the wire; health and animation bookkeeping stay local.
type Entity struct {
	State  protocol.EntityState
	Health int32
	Dead   bool
	// Frame is the current animation frame, reset whenever the animation is
	// forced from outside the simulation.
	Frame int
}

func (e *Entity) TakeDamage(damage int32) {
	if e.Dead || damage <= 0 {
		return
	}

	e.Health -= damage
	if e.Health <= 0 {
		e.Health = 0
		e.Dead = true
		e.ForceAnimation(protocol.AnimDeath)
	}
}

func (e *Entity) ForceAnimation(anim protocol.AnimationState) {
	e.State.Anim = anim
	e.Frame = 0
}

// World is the local, mutable entity collection of one participant. It is
// what rpc calls act on, as opposed to the replicated snapshots.
type World struct {
	mu       sync.Mutex
	entities map[int32]*Entity
}

func New() *World {
	return &World{
		entities: make(map[int32]*Entity),
	}
}

// Upsert spawns an entity for s or refreshes the replicated state of an
// existing one, keeping its local health.
func (w *World) Upsert(s protocol.EntityState) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.entities[s.ObjectID]; ok {
		e.State = s
		return
	}
	w.entities[s.ObjectID] = &Entity{
		State:  s,
		Health: MaxHealth,
	}
}

func (w *World) ApplyMotion(objectID int32, m protocol.Motion) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[objectID]
	if !ok {
		return false
	}
	e.State.ApplyMotion(m)
	return true
}

// Get returns a copy.
func (w *World) Get(objectID int32) (Entity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[objectID]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

func (w *World) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.entities)
}

// Act runs fn with the entity identified by objectID and every other entity,
// all under the world lock. target never appears in others, so fn can't end
// up holding two references to the same entity. It reports false, without
// calling fn, when objectID is unknown.
func (w *World) Act(objectID int32, fn func(target *Entity, others []*Entity)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	target, ok := w.entities[objectID]
	if !ok {
		return false
	}

	others := make([]*Entity, 0, len(w.entities)-1)
	for id, e := range w.entities {
		if id == objectID {
			continue
		}
		others = append(others, e)
	}
	sort.Slice(others, func(i, j int) bool {
		return others[i].State.ObjectID < others[j].State.ObjectID
	})

	fn(target, others)
	return true
}
